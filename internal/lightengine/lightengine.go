// Package lightengine adapts the projector/LED current-control device.
// The real hardware is driven through a vendor USB API; this package
// defines the capability surface the engine needs plus a simulated
// backend.
package lightengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// System status bytes reported by the device.
const (
	SysReady   byte = 1
	SysWarming byte = 4
)

// Engine is the light-engine capability surface. All calls are
// synchronous and short-latency.
type Engine interface {
	EnumDevices() int
	SetDeviceIndex(i int)
	Online() bool
	PowerOn() error
	PowerOff() error
	SetCurrent(c uint8) error
	Current() (uint8, error)
	SysStatus() byte
	LedDefault() (bool, error)
	Temperature() (int16, error)
}

// ErrWarmUpTimeout is fatal: the run must not start on a cold engine.
var ErrWarmUpTimeout = errors.New("lightengine: warm-up timed out")

const warmUpPoll = 100 * time.Millisecond

// WarmUp enumerates and selects the device, powers it on and polls the
// system status until it reports ready. Timing out powers the engine
// back off and fails.
func WarmUp(ctx context.Context, e Engine, timeout time.Duration) error {
	n := e.EnumDevices()
	if n == 0 {
		return errors.New("lightengine: no USB devices found")
	}
	log.Info().Int("devices", n).Msg("light engine enumerated")
	e.SetDeviceIndex(0)
	if !e.Online() {
		return errors.New("lightengine: device not online")
	}

	if err := e.PowerOn(); err != nil {
		return fmt.Errorf("lightengine: power on: %w", err)
	}
	log.Info().Msg("system is warming up")

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			_ = e.PowerOff()
			return ctx.Err()
		case <-time.After(warmUpPoll):
		}
		st := e.SysStatus()
		if st == SysReady {
			return nil
		}
		if st != SysWarming {
			log.Warn().Uint8("status", st).Msg("unexpected system status during warm-up")
		}
		if time.Now().After(deadline) {
			_ = e.PowerOff()
			return ErrWarmUpTimeout
		}
	}
}
