package lightengine

import (
	"errors"
	"sync"
	"time"
)

// Sim is an in-memory light engine with a configurable warm-up ramp.
type Sim struct {
	mu sync.Mutex

	selected  int
	powered   bool
	current   uint8
	poweredAt time.Time

	// WarmUpTime is how long after PowerOn SysStatus keeps reporting
	// SysWarming.
	WarmUpTime time.Duration

	// TempC is the reported temperature.
	TempC int16

	currents []uint8 // history of applied currents
}

func NewSim() *Sim {
	return &Sim{TempC: 25}
}

func (s *Sim) EnumDevices() int { return 1 }

func (s *Sim) SetDeviceIndex(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = i
}

func (s *Sim) Online() bool { return true }

func (s *Sim) PowerOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = true
	s.poweredAt = time.Now()
	return nil
}

func (s *Sim) PowerOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powered = false
	return nil
}

func (s *Sim) SetCurrent(c uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.powered && c != 0 {
		return errors.New("lightengine: not powered")
	}
	s.current = c
	s.currents = append(s.currents, c)
	return nil
}

func (s *Sim) Current() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *Sim) SysStatus() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.powered {
		return 0
	}
	if time.Since(s.poweredAt) < s.WarmUpTime {
		return SysWarming
	}
	return SysReady
}

func (s *Sim) LedDefault() (bool, error) { return true, nil }

func (s *Sim) Temperature() (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TempC, nil
}

// Currents returns the history of SetCurrent values.
func (s *Sim) Currents() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint8, len(s.currents))
	copy(out, s.currents)
	return out
}
