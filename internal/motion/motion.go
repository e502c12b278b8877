// Package motion turns single-shot protocol calls into convergent,
// timeout-bounded stage operations.
package motion

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lee-lab-skku/dynamic-clip-software/internal/smc"
)

const (
	// pollInterval paces the position/velocity convergence loops.
	pollInterval = 50 * time.Millisecond

	// readyPoll paces the Ready-status wait inside a move.
	readyPoll = 3 * time.Millisecond

	// retryDelay backs off between move retries.
	retryDelay = 3 * time.Millisecond
)

// Stage is the subset of the protocol client the synchronizer drives.
type Stage interface {
	GetPosition() (string, error)
	GetVelocity() (string, error)
	GetAcceleration() (string, error)
	GetPositiveLimit() (string, error)
	GetNegativeLimit() (string, error)
	SetVelocity(float64) error
	AbsoluteMove(float64) error
	RelativeMove(float64) error
	GetCurrentStatus() (smc.Status, error)
	Home() error
}

// StageStatus is a point-in-time snapshot of the stage parameters.
// Recomputed on demand, never persisted.
type StageStatus struct {
	Position      float64
	Velocity      float64
	Acceleration  float64
	PositiveLimit float64
	NegativeLimit float64
}

// Synchronizer wraps a Stage with retrying, polling wait primitives.
type Synchronizer struct {
	stage Stage

	// retries counts move re-issues after an error, for observability.
	retries atomic.Int64
}

func New(stage Stage) *Synchronizer {
	return &Synchronizer{stage: stage}
}

// Retries reports how many times a move has been re-issued after an
// error since construction.
func (s *Synchronizer) Retries() int64 { return s.retries.Load() }

// WaitForPosition polls the position until it is within tolerance of
// target or the timeout elapses, reissuing the absolute-move command
// alongside each poll. The protocol is not strictly request/response, so
// the reissue deliberately counters dropped commands. Returns whether
// the position converged; timing out is not fatal.
func (s *Synchronizer) WaitForPosition(ctx context.Context, target, tolerance float64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}

		resp, err := s.stage.GetPosition()
		if err != nil {
			log.Warn().Err(err).Msg("position query failed")
		} else if cur, perr := smc.ParsePosition(resp); perr != nil {
			log.Warn().Err(perr).Msg("position response malformed")
		} else {
			log.Debug().Float64("position_mm", cur).Msg("position poll")
			if math.Abs(cur-target) < tolerance {
				return true
			}
		}

		if err := s.stage.AbsoluteMove(target); err != nil {
			log.Warn().Err(err).Msg("absolute move reissue failed")
		}

		if time.Now().After(deadline) {
			log.Warn().Float64("target_mm", target).Msg("position wait timed out")
			return false
		}
	}
}

// WaitForVelocity is the velocity analog of WaitForPosition, reissuing
// the set-velocity command on each poll.
func (s *Synchronizer) WaitForVelocity(ctx context.Context, target, tolerance float64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}

		resp, err := s.stage.GetVelocity()
		if err != nil {
			log.Warn().Err(err).Msg("velocity query failed")
		} else if cur, perr := smc.ParseVelocity(resp); perr != nil {
			log.Warn().Err(perr).Msg("velocity response malformed")
		} else {
			if math.Abs(cur-target) < tolerance {
				return true
			}
		}

		if err := s.stage.SetVelocity(target); err != nil {
			log.Warn().Err(err).Msg("set velocity reissue failed")
		}

		if time.Now().After(deadline) {
			log.Warn().Float64("target", target).Msg("velocity wait timed out")
			return false
		}
	}
}

// MoveStage executes one layer's relative move sequence. Outside CLIP
// mode the stage first pumps up by pumping, then steps, then pumps back
// down; each leg waits for Ready before the next. A failed leg is
// retried until it succeeds or ctx is cancelled.
func (s *Synchronizer) MoveStage(ctx context.Context, stepSize float64, clipMode bool, pumping float64) error {
	if !clipMode {
		log.Info().Msg("DLP movement triggered up")
		if err := s.moveUntilReady(ctx, -pumping); err != nil {
			return err
		}
	}
	if err := s.moveUntilReady(ctx, stepSize); err != nil {
		return err
	}
	if !clipMode {
		if err := s.moveUntilReady(ctx, pumping); err != nil {
			return err
		}
	}
	return nil
}

// moveUntilReady issues one relative move and waits for Ready, retrying
// the whole leg on any error. The retry loop is unbounded on purpose: a
// transient serial fault must not false-abort a physical print. The only
// exit besides success is ctx cancellation.
func (s *Synchronizer) moveUntilReady(ctx context.Context, step float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.moveOnce(ctx, step)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.retries.Add(1)
		log.Warn().Err(err).Float64("step_mm", step).Msg("move failed, retrying")
		time.Sleep(retryDelay)
	}
}

func (s *Synchronizer) moveOnce(ctx context.Context, step float64) error {
	if err := s.stage.RelativeMove(step); err != nil {
		return err
	}
	time.Sleep(readyPoll) // let the motion initiate

	// No timeout here: the controller always eventually reports Ready.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPoll):
		}
		st, err := s.stage.GetCurrentStatus()
		if err != nil {
			return err
		}
		if st.Type == smc.StatusReady {
			return nil
		}
	}
}

// Status queries the full stage parameter snapshot. Individual query
// failures abort the snapshot; it is strictly best-effort.
func (s *Synchronizer) Status() (StageStatus, error) {
	var st StageStatus
	var err error

	if st.Position, err = parsed(s.stage.GetPosition, smc.ParsePosition); err != nil {
		return st, fmt.Errorf("position: %w", err)
	}
	if st.Velocity, err = parsed(s.stage.GetVelocity, smc.ParseVelocity); err != nil {
		return st, fmt.Errorf("velocity: %w", err)
	}
	if st.Acceleration, err = parsed(s.stage.GetAcceleration, smc.ParseAcceleration); err != nil {
		return st, fmt.Errorf("acceleration: %w", err)
	}
	if st.PositiveLimit, err = parsed(s.stage.GetPositiveLimit, smc.ParseLimit); err != nil {
		return st, fmt.Errorf("positive limit: %w", err)
	}
	if st.NegativeLimit, err = parsed(s.stage.GetNegativeLimit, smc.ParseLimit); err != nil {
		return st, fmt.Errorf("negative limit: %w", err)
	}
	return st, nil
}

func parsed(get func() (string, error), parse func(string) (float64, error)) (float64, error) {
	resp, err := get()
	if err != nil {
		return 0, err
	}
	return parse(resp)
}

// Park retires the stage after a run: retract to ten millimetres below
// the current position, switch to the fast travel velocity, then move to
// the base position. Convergence uses the bounded waits, so a stuck
// stage degrades to a logged timeout instead of hanging teardown.
func (s *Synchronizer) Park(ctx context.Context, fastVelocity float64, timeout time.Duration) {
	const (
		posTolerance = 1.0
		velTolerance = 0.5
	)

	position := 0.0
	if resp, err := s.stage.GetPosition(); err != nil {
		log.Warn().Err(err).Msg("park: position read failed")
	} else if v, perr := smc.ParsePosition(resp); perr != nil {
		log.Warn().Err(perr).Msg("park: position response malformed")
	} else {
		position = v
	}

	intermediate := position - 10.0
	if err := s.stage.AbsoluteMove(intermediate); err != nil {
		log.Warn().Err(err).Msg("park: retract move failed")
	}
	s.WaitForPosition(ctx, intermediate, posTolerance, timeout)

	if err := s.stage.SetVelocity(fastVelocity); err != nil {
		log.Warn().Err(err).Msg("park: set velocity failed")
	}
	s.WaitForVelocity(ctx, fastVelocity, velTolerance, timeout)

	if err := s.stage.AbsoluteMove(0); err != nil {
		log.Warn().Err(err).Msg("park: base move failed")
	}
	s.WaitForPosition(ctx, 0, posTolerance, timeout)
}
