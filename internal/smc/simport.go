package smc

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimPort emulates an SMC100CC on the other end of the serial line:
// commands written to it mutate a small motion model and get-commands
// queue framed responses for the next reads. It backs the sim driver and
// the package tests.
type SimPort struct {
	mu     sync.Mutex
	closed bool

	rx []byte // pending response bytes

	pos      float64
	target   float64
	vel      float64
	accel    float64
	posLimit float64
	negLimit float64

	movingUntil time.Time
	homingUntil time.Time

	// MoveDuration is how long a commanded move reports Moving before
	// the model snaps to the target and reports Ready.
	MoveDuration time.Duration
}

// NewSimPort returns a model with sane stage defaults.
func NewSimPort() *SimPort {
	return &SimPort{
		vel:          1,
		accel:        10,
		posLimit:     25,
		negLimit:     -5,
		MoveDuration: 2 * time.Millisecond,
	}
}

// Position reports the model's settled position.
func (s *SimPort) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.pos
}

func (s *SimPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimPort) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = s.rx[:0]
	return nil
}

func (s *SimPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(s.rx) == 0 {
		return 0, nil
	}
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n, nil
}

func (s *SimPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	for _, line := range strings.Split(string(p), "\r\n") {
		if line != "" {
			s.exec(line)
		}
	}
	return len(p), nil
}

// settle completes any move whose deadline has passed.
func (s *SimPort) settle() {
	if !s.movingUntil.IsZero() && time.Now().After(s.movingUntil) {
		s.pos = s.target
		s.movingUntil = time.Time{}
	}
	if !s.homingUntil.IsZero() && time.Now().After(s.homingUntil) {
		s.pos = 0
		s.target = 0
		s.homingUntil = time.Time{}
	}
}

func (s *SimPort) exec(line string) {
	if len(line) < 3 || !strings.HasPrefix(line, controllerAddress) {
		return
	}
	code := line[1:3]
	rest := line[3:]
	get := rest == "?"
	param := 0.0
	if !get && rest != "" {
		param, _ = strconv.ParseFloat(rest, 64)
	}
	s.settle()

	switch code {
	case "OR":
		s.homingUntil = time.Now().Add(s.MoveDuration)
	case "PA":
		s.target = param
		s.movingUntil = time.Now().Add(s.MoveDuration)
	case "PR":
		s.target = s.pos + param
		s.movingUntil = time.Now().Add(s.MoveDuration)
	case "ST":
		s.target = s.pos
		s.movingUntil = time.Time{}
	case "VA":
		if get {
			s.respond("VA", fmt.Sprintf("%4.1f", s.vel))
		} else {
			s.vel = param
		}
	case "AC":
		if get {
			s.respond("AC", fmt.Sprintf("%2.0f", s.accel))
		} else {
			s.accel = param
		}
	case "SR":
		if get {
			s.respond("SR", fmt.Sprintf("%2.0f", s.posLimit))
		} else {
			s.posLimit = param
		}
	case "SL":
		if get {
			s.respond("SL", fmt.Sprintf("%2.0f", s.negLimit))
		} else {
			s.negLimit = param
		}
	case "TP":
		if get {
			p := s.pos
			if !s.movingUntil.IsZero() {
				p = (s.pos + s.target) / 2
			}
			s.respond("TP", fmt.Sprintf("%6.2f", p))
		}
	case "TS":
		if get {
			s.respond("TS", "0000"+s.stateCode())
		}
	case "TE":
		if get {
			s.respond("TE", "@")
		}
	}
}

func (s *SimPort) stateCode() string {
	switch {
	case !s.homingUntil.IsZero():
		return "1E"
	case !s.movingUntil.IsZero():
		return "28"
	default:
		return "33"
	}
}

func (s *SimPort) respond(code, value string) {
	s.rx = append(s.rx, []byte(controllerAddress+code+value+"\r\n")...)
}
