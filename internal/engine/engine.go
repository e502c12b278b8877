// Package engine runs the layer-by-layer exposure sequence: it paces
// the render surface frame by frame, times light and dark phases, and
// overlaps stage moves and image preloads with the dark intervals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lee-lab-skku/dynamic-clip-software/internal/frames"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/layers"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/lightengine"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/smc"
)

// ErrAborted reports a run ended by the operator's abort signal.
var ErrAborted = errors.New("engine: run aborted")

const defaultFPS = 30

// Stage is the raw protocol surface the engine touches directly:
// best-effort position snapshots and the final home/close teardown.
type Stage interface {
	GetPosition() (string, error)
	Home() error
	Close() error
}

// Mover executes one layer's stage move cycle. At most one call is in
// flight at a time; the engine enforces that.
type Mover interface {
	MoveStage(ctx context.Context, stepSize float64, clipMode bool, pumping float64) error
}

// LogFunc receives the operator-facing log lines.
type LogFunc func(string)

// Phase labels for progress reporting.
const (
	PhaseLight = "light"
	PhaseDark  = "dark"
)

// Progress is a point-in-time view of the run for observers.
type Progress struct {
	Mode       string
	Phase      string
	Layer      int
	ImageIndex int
	ImageCount int
}

// Config carries one run's parameters.
type Config struct {
	ImageDir   string
	StepSizeMM float64
	DarkTimeMS int

	// MaxImageDisplayCount is the steady-state light-phase length in
	// frames. The first InitialLayers layers use InitialExposureFrames
	// instead (static mode only).
	MaxImageDisplayCount  int
	InitialExposureFrames int
	InitialLayers         int

	ClipMode  bool
	PumpingMM float64

	FPS int

	// SettleDelay is the pause after applying a dynamic settings entry
	// so the current change takes effect. Zero means two seconds.
	SettleDelay time.Duration
}

// Engine owns the stage connection and render surface for the duration
// of a run. Run state is mutated only inside the frame loop.
type Engine struct {
	stage    Stage
	mover    Mover
	light    lightengine.Engine
	display  frames.Display
	logf     LogFunc
	progress func(Progress)

	abort atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogSink routes operator-facing log lines to fn.
func WithLogSink(fn LogFunc) Option {
	return func(e *Engine) { e.logf = fn }
}

// WithProgress registers a per-transition progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) { e.progress = fn }
}

func New(stage Stage, mover Mover, light lightengine.Engine, display frames.Display, opts ...Option) *Engine {
	e := &Engine{
		stage:   stage,
		mover:   mover,
		light:   light,
		display: display,
		logf:    func(line string) { log.Info().Msg(line) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Abort requests a graceful stop. Sampled once per rendered frame; an
// in-flight move is joined, not interrupted.
func (e *Engine) Abort() { e.abort.Store(true) }

// Aborted reports whether the abort flag is set.
func (e *Engine) Aborted() bool { return e.abort.Load() }

func (e *Engine) report(mode, phase string, st *runState) {
	if e.progress == nil {
		return
	}
	e.progress(Progress{
		Mode:       mode,
		Phase:      phase,
		Layer:      st.layer,
		ImageIndex: st.imageIndex,
		ImageCount: len(st.paths),
	})
}

// runState is the engine's live per-run state. Owned exclusively by the
// frame loop.
type runState struct {
	paths  []string
	loader *frames.Loader

	imageIndex int
	layer      int

	lightPhase bool
	frameCount int

	phaseStart time.Time
	darkStart  time.Time

	filenameLogged bool
	lightEnded     bool // dark branch still owes the light-duration log

	moveRunning bool
	moveDone    chan error
	nextLoaded  bool
	nextLoading bool
	allShown    bool
}

type session struct {
	e    *Engine
	cfg  Config
	st   runState
	mode string

	ticker   *time.Ticker
	moveCtx  context.Context
	moveStop context.CancelFunc
}

// newSession enumerates and sorts the image sequence and preloads the
// first exposure. Filesystem failures here are fatal to the run.
func (e *Engine) newSession(ctx context.Context, cfg Config, mode string) (*session, error) {
	e.logf("Adding paths to imagePaths vector.")
	paths, err := frames.Sequence(cfg.ImageDir)
	if err != nil {
		e.logf("Filesystem error: " + err.Error())
		return nil, err
	}
	if len(paths) == 0 {
		err := fmt.Errorf("engine: no images in %s", cfg.ImageDir)
		e.logf("Filesystem error: " + err.Error())
		return nil, err
	}

	loader, err := frames.NewLoader(paths[0])
	if err != nil {
		e.logf("Failed to load first image: " + paths[0])
		return nil, err
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	moveCtx, moveStop := context.WithCancel(ctx)
	now := time.Now()
	return &session{
		e:    e,
		cfg:  cfg,
		mode: mode,
		st: runState{
			paths:      paths,
			loader:     loader,
			lightPhase: true,
			phaseStart: now,
		},
		ticker:   time.NewTicker(time.Second / time.Duration(fps)),
		moveCtx:  moveCtx,
		moveStop: moveStop,
	}, nil
}

// tick waits for the next frame slot.
func (s *session) tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

// lightFrame renders one exposure frame. Completing the phase's frame
// budget transitions to the dark phase.
func (s *session) lightFrame(maxCount int) {
	st := &s.st
	if err := s.e.display.Show(st.loader.Active()); err != nil {
		s.e.logf("Display error: " + err.Error())
	}

	if !st.filenameLogged {
		s.e.logf("Displaying: " + st.paths[st.imageIndex])
		st.filenameLogged = true
		s.e.logf(fmt.Sprintf("Dark phase duration: %d ms", time.Since(st.phaseStart).Milliseconds()))
		st.phaseStart = time.Now()
		s.e.report(s.mode, PhaseLight, st)
	}

	st.frameCount++
	if st.frameCount >= maxCount {
		st.lightPhase = false
		st.lightEnded = true
		st.frameCount = 0
		st.layer++

		s.logPositionSnapshot()
		s.e.logf(fmt.Sprintf("Current Image Index: %d / %d", st.imageIndex, len(st.paths)))
		st.darkStart = time.Now()
		s.e.report(s.mode, PhaseDark, st)
	}
}

// logPositionSnapshot reads and logs the stage position. Best-effort: a
// read or parse failure is logged, never fatal.
func (s *session) logPositionSnapshot() {
	resp, err := s.e.stage.GetPosition()
	if err != nil {
		s.e.logf("Exception caught while processing position: " + err.Error())
		return
	}
	field, err := smc.PositionField(resp)
	if err != nil {
		s.e.logf("Error: Position string too short or in unexpected format.")
		return
	}
	s.e.logf("Position: " + field + " mm")
}

// darkFrame renders one blank frame and drives the dark-phase work:
// launching the stage move, preloading the next image, and advancing
// once the move is done, the dark time has elapsed and the next image
// is ready. Returns whether the layer advanced this frame.
func (s *session) darkFrame(darkDur time.Duration) bool {
	st := &s.st
	if err := s.e.display.Blank(); err != nil {
		s.e.logf("Display error: " + err.Error())
	}

	if st.lightEnded {
		s.e.logf(fmt.Sprintf("Light phase duration: %d ms", time.Since(st.phaseStart).Milliseconds()))
		st.phaseStart = time.Now()
		st.lightEnded = false
	}

	hasNext := st.imageIndex+1 < len(st.paths)

	// One move per dark phase, and only when another layer follows.
	if hasNext && !st.moveRunning && !st.nextLoaded {
		st.moveRunning = true
		st.moveDone = make(chan error, 1)
		go func() {
			st.moveDone <- s.e.mover.MoveStage(s.moveCtx, s.cfg.StepSizeMM, s.cfg.ClipMode, s.cfg.PumpingMM)
		}()
	}

	if hasNext && !st.nextLoading {
		st.nextLoading = true
		if err := st.loader.Preload(st.paths[st.imageIndex+1]); err != nil {
			s.e.logf("Failed to load next image: " + err.Error())
		}
		st.nextLoaded = true
		s.e.logf("Next Image Loaded.")
	} else if !hasNext && !st.nextLoading {
		st.allShown = true
	}

	// Non-blocking completion poll, once per frame.
	if st.moveRunning {
		select {
		case err := <-st.moveDone:
			st.moveRunning = false
			if err != nil {
				s.e.logf("Stage move failed: " + err.Error())
			}
		default:
		}
	}

	if time.Since(st.darkStart) > darkDur && st.nextLoaded && !st.moveRunning {
		st.lightPhase = true
		st.nextLoading = false
		st.nextLoaded = false
		st.imageIndex++
		st.loader.Swap()
		st.filenameLogged = false

		// Safety black frames so the swap is never visible.
		for i := 0; i < 2; i++ {
			_ = s.e.display.Blank()
		}
		return true
	}
	return false
}

// finish joins any in-flight move, reports the final position, homes the
// stage, and releases the connection and render surface. Best-effort
// throughout.
func (s *session) finish() {
	s.moveStop()
	if s.st.moveRunning {
		<-s.st.moveDone
		s.st.moveRunning = false
	}
	s.ticker.Stop()

	time.Sleep(50 * time.Millisecond)

	if resp, err := s.e.stage.GetPosition(); err != nil {
		s.e.logf("Final position unavailable: " + err.Error())
	} else {
		s.e.logf("Final position: " + smc.StripCRLF(resp))
	}

	if err := s.e.stage.Home(); err != nil {
		s.e.logf("Failed")
	} else {
		s.e.logf("Homed")
	}

	if err := s.e.stage.Close(); err != nil {
		s.e.logf("Close failed: " + err.Error())
	} else {
		s.e.logf("Closed connection")
	}
	_ = s.e.display.Close()
}

// Run executes a static print: every layer shares the run's exposure
// and dark parameters, except the first InitialLayers layers which use
// the initial exposure counter.
func (e *Engine) Run(ctx context.Context, cfg Config) error {
	e.logf("Run Full has started")
	if !cfg.ClipMode {
		e.logf("Dlp mode initialized.")
	}

	s, err := e.newSession(ctx, cfg, "static")
	if err != nil {
		e.closeOnFatal()
		return err
	}

	darkDur := time.Duration(cfg.DarkTimeMS) * time.Millisecond
	for {
		if err := s.tick(ctx); err != nil {
			s.finish()
			return err
		}
		if e.abort.Load() {
			e.logf("Run Full aborted.")
			s.finish()
			return ErrAborted
		}

		if s.st.lightPhase {
			maxCount := cfg.MaxImageDisplayCount
			if s.st.layer < cfg.InitialLayers {
				maxCount = cfg.InitialExposureFrames
			}
			s.lightFrame(maxCount)
		} else {
			s.darkFrame(darkDur)
		}

		if s.st.allShown && !s.st.lightPhase {
			e.logf("All images shown, exiting program.")
			if err := e.light.SetCurrent(0); err != nil {
				e.logf("Failed to zero current: " + err.Error())
			}
			break
		}
	}

	s.finish()
	return nil
}

// RunDynamic executes a dynamic print: each settings entry applies its
// intensity to the light engine, settles, then runs its repeat count of
// layer cycles with its own exposure and dark parameters.
func (e *Engine) RunDynamic(ctx context.Context, cfg Config, list layers.List) error {
	e.logf("Run Full Dynamic has started")
	if !cfg.ClipMode {
		e.logf("Dlp mode initialized.")
	}
	if len(list) == 0 {
		return errors.New("engine: empty settings list")
	}

	s, err := e.newSession(ctx, cfg, "dynamic")
	if err != nil {
		e.closeOnFatal()
		return err
	}

	settle := cfg.SettleDelay
	if settle == 0 {
		settle = 2 * time.Second
	}

outer:
	for _, entry := range list {
		set := entry.Setting
		e.logf(fmt.Sprintf("Applying settings: Intensity %d, Exposure Time: %d, Dark Time: %d",
			set.Intensity, set.ExposureFrames, set.DarkTimeMS))

		if err := e.light.SetCurrent(uint8(set.Intensity)); err != nil {
			e.logf("Failed to set current: " + err.Error())
		}

		// Let the current change take effect before exposing.
		select {
		case <-ctx.Done():
			s.finish()
			return ctx.Err()
		case <-time.After(settle):
		}

		darkDur := time.Duration(set.DarkTimeMS) * time.Millisecond
		for layersDone := 0; layersDone < entry.Repeat; {
			if err := s.tick(ctx); err != nil {
				s.finish()
				return err
			}
			if e.abort.Load() {
				e.logf("Run Full Dynamic aborted.")
				s.finish()
				return ErrAborted
			}

			if s.st.lightPhase {
				s.lightFrame(set.ExposureFrames)
			} else if s.darkFrame(darkDur) {
				layersDone++
				e.logf(fmt.Sprintf("Printed layer with Intensity: %d, Exposure Time: %d, Dark Time: %d",
					set.Intensity, set.ExposureFrames, set.DarkTimeMS))
			}

			if s.st.allShown && !s.st.lightPhase {
				e.logf("All images shown, exiting program.")
				break outer
			}
		}
	}

	if err := e.light.SetCurrent(0); err != nil {
		e.logf("Failed to zero current: " + err.Error())
	}
	s.finish()
	return nil
}

// closeOnFatal tears down after a fatal setup error, before any frame
// was rendered.
func (e *Engine) closeOnFatal() {
	if err := e.stage.Close(); err != nil {
		e.logf("Close failed: " + err.Error())
	}
	_ = e.display.Close()
}
