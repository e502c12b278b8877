// Package smc speaks the SMC100CC motion controller's ASCII protocol
// over a serial line.
package smc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	baudRate = 57600

	// Single configured controller address on the RS-485 chain.
	controllerAddress = "1"

	// Settle delay between a get-command write and the response read.
	responseDelay = 10 * time.Millisecond

	// Bound on reading a response up to its terminator byte.
	readTimeout = 20 * time.Millisecond

	terminator = '\n'

	maxResponse = 64
)

// ErrNotOpen is returned by operations on a closed client.
var ErrNotOpen = errors.New("smc: connection not open")

// ErrConnection classifies serial open failures. Fatal at startup.
var ErrConnection = errors.New("smc: connection failed")

// Port is the serial endpoint the client drives. *serial.Port from
// go.bug.st/serial satisfies it; tests and the sim backend inject fakes.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Client encodes typed operations into the wire protocol. It does not
// retry; retry policy belongs to the motion synchronizer.
type Client struct {
	port Port
	addr string
}

// Open opens the serial line at the fixed controller baud rate.
func Open(portName string) (*Client, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnection, portName, err)
	}
	// Short read timeout so the response loop polls rather than blocks.
	_ = p.SetReadTimeout(5 * time.Millisecond)
	return NewClient(p), nil
}

// NewClient wraps an already-open port.
func NewClient(p Port) *Client {
	return &Client{port: p, addr: controllerAddress}
}

// Close releases the port. Safe to call twice.
func (c *Client) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// send writes <addr><code>[<param>|?]\r\n for the given command.
func (c *Client) send(cmd Command, param float64, get bool) error {
	if c.port == nil {
		return ErrNotOpen
	}
	spec, ok := commandTable[cmd]
	if !ok {
		return fmt.Errorf("smc: unknown command %d", cmd)
	}

	var b strings.Builder
	b.WriteString(c.addr)
	b.WriteString(spec.Code)
	if get {
		b.WriteByte('?')
	} else {
		switch spec.Param {
		case paramInt:
			fmt.Fprintf(&b, "%d", int(param))
		case paramFloat:
			fmt.Fprintf(&b, "%f", param)
		}
	}
	b.WriteString("\r\n")

	if _, err := c.port.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("smc: write %s: %w", spec.Code, err)
	}
	return nil
}

// query flushes stale input, issues a get-command and reads the raw
// response string up to the terminator.
func (c *Client) query(cmd Command) (string, error) {
	if c.port == nil {
		return "", ErrNotOpen
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("smc: flush input: %w", err)
	}
	if err := c.send(cmd, 0, true); err != nil {
		return "", err
	}
	time.Sleep(responseDelay)
	return c.readResponse()
}

// readResponse reads byte-wise until the terminator or the fixed read
// timeout elapses, returning whatever arrived.
func (c *Client) readResponse() (string, error) {
	deadline := time.Now().Add(readTimeout)
	buf := make([]byte, 0, maxResponse)
	one := make([]byte, 1)
	for len(buf) < maxResponse {
		if time.Now().After(deadline) {
			break
		}
		n, err := c.port.Read(one)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("smc: read: %w", err)
		}
		if n == 0 {
			continue
		}
		buf = append(buf, one[0])
		if one[0] == terminator {
			break
		}
	}
	return string(buf), nil
}

// Home issues the home-search command. Success reflects the write
// acknowledgment only, not completion of the physical motion.
func (c *Client) Home() error {
	return c.send(CmdHomeSearch, 0, false)
}

// StopMotion is the emergency stop. Fire and forget.
func (c *Client) StopMotion() error {
	return c.send(CmdStopMotion, 0, false)
}

func (c *Client) SetVelocity(v float64) error     { return c.send(CmdVelocity, v, false) }
func (c *Client) SetAcceleration(a float64) error { return c.send(CmdAcceleration, a, false) }
func (c *Client) SetJerkTime(t float64) error     { return c.send(CmdJerkTime, t, false) }

func (c *Client) SetPositiveLimit(l float64) error { return c.send(CmdPositiveLimit, l, false) }
func (c *Client) SetNegativeLimit(l float64) error { return c.send(CmdNegativeLimit, l, false) }

// RelativeMove moves the stage relative to its current position.
func (c *Client) RelativeMove(d float64) error { return c.send(CmdMoveRel, d, false) }

// AbsoluteMove moves the stage to an absolute position.
func (c *Client) AbsoluteMove(p float64) error { return c.send(CmdMoveAbs, p, false) }

// GetPosition returns the raw TP response. The numeric value sits at the
// fixed offset; see ParsePosition.
func (c *Client) GetPosition() (string, error) { return c.query(CmdPositionReal) }

func (c *Client) GetVelocity() (string, error)      { return c.query(CmdVelocity) }
func (c *Client) GetAcceleration() (string, error)  { return c.query(CmdAcceleration) }
func (c *Client) GetPositiveLimit() (string, error) { return c.query(CmdPositiveLimit) }
func (c *Client) GetNegativeLimit() (string, error) { return c.query(CmdNegativeLimit) }

// GetCurrentStatus queries TS and maps the 2-char state code through the
// static status table. Unmapped codes decode as StatusUnknown rather
// than failing.
func (c *Client) GetCurrentStatus() (Status, error) {
	resp, err := c.query(CmdStatus)
	if err != nil {
		return Status{}, err
	}
	code, err := parseStatusCode(resp)
	if err != nil {
		return Status{}, err
	}
	t, ok := statusTable[code]
	if !ok {
		t = StatusUnknown
	}
	return Status{Type: t, Code: code}, nil
}

// GetLastError queries TE and converts the error char to plain text.
func (c *Client) GetLastError() (string, error) {
	resp, err := c.query(CmdLastError)
	if err != nil {
		return "", err
	}
	stripped := StripCRLF(resp)
	if len(stripped) < valueOffset+1 {
		return "", fmt.Errorf("smc: error string %q too short", stripped)
	}
	return errorText(stripped[valueOffset]), nil
}
