package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lee-lab-skku/dynamic-clip-software/internal/frames"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/layers"
	"github.com/lee-lab-skku/dynamic-clip-software/internal/lightengine"
)

type fakeStage struct {
	mu       sync.Mutex
	homed    bool
	closed   bool
	position string
}

func (f *fakeStage) GetPosition() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == "" {
		return "1TP  5.00\r\n", nil
	}
	return f.position, nil
}

func (f *fakeStage) Home() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homed = true
	return nil
}

func (f *fakeStage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStage) state() (homed, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.homed, f.closed
}

type fakeMover struct {
	moves    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
}

func (f *fakeMover) MoveStage(ctx context.Context, stepSize float64, clipMode bool, pumping float64) error {
	n := f.inFlight.Add(1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.delay):
	}
	f.moves.Add(1)
	return nil
}

type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *logBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

func (b *logBuffer) contains(sub string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func writeImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		img.Set(0, 0, color.White)
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("SEC_%d.PNG", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	return dir
}

func TestRunCompletesAndMovesBetweenLayers(t *testing.T) {
	dir := writeImages(t, 3)
	stage := &fakeStage{}
	mover := &fakeMover{delay: time.Millisecond}
	display := frames.NewSimDisplay()
	buf := &logBuffer{}

	e := New(stage, mover, lightengine.NewSim(), display, WithLogSink(buf.add))
	err := e.Run(context.Background(), Config{
		ImageDir:             dir,
		StepSizeMM:           0.05,
		DarkTimeMS:           30,
		MaxImageDisplayCount: 2,
		FPS:                  200,
	})
	require.NoError(t, err)

	// Three images means two inter-layer moves; no move after the last.
	assert.Equal(t, int64(2), mover.moves.Load())
	assert.Equal(t, int64(1), mover.maxSeen.Load())

	light, dark := display.Frames()
	assert.Equal(t, 6, light)
	assert.Greater(t, dark, 0)

	homed, closed := stage.state()
	assert.True(t, homed)
	assert.True(t, closed)
	assert.True(t, display.Closed())
	assert.True(t, buf.contains("Homed"))
	assert.True(t, buf.contains("All images shown, exiting program."))
}

func TestRunInitialLayersUseLongerExposure(t *testing.T) {
	dir := writeImages(t, 3)
	display := frames.NewSimDisplay()

	e := New(&fakeStage{}, &fakeMover{delay: time.Millisecond}, lightengine.NewSim(), display,
		WithLogSink(func(string) {}))
	err := e.Run(context.Background(), Config{
		ImageDir:              dir,
		StepSizeMM:            0.05,
		DarkTimeMS:            20,
		MaxImageDisplayCount:  2,
		InitialExposureFrames: 5,
		InitialLayers:         1,
		FPS:                   200,
	})
	require.NoError(t, err)

	// First layer: 5 frames; remaining two layers: 2 each.
	light, _ := display.Frames()
	assert.Equal(t, 9, light)
}

func TestRunAbortDuringLightPhase(t *testing.T) {
	dir := writeImages(t, 3)
	stage := &fakeStage{}
	mover := &fakeMover{delay: time.Millisecond}
	buf := &logBuffer{}

	e := New(stage, mover, lightengine.NewSim(), frames.NewSimDisplay(), WithLogSink(buf.add))
	e.Abort()

	err := e.Run(context.Background(), Config{
		ImageDir:             dir,
		StepSizeMM:           0.05,
		DarkTimeMS:           30,
		MaxImageDisplayCount: 100,
		FPS:                  200,
	})
	require.ErrorIs(t, err, ErrAborted)

	assert.Equal(t, int64(0), mover.moves.Load())
	homed, closed := stage.state()
	assert.True(t, homed)
	assert.True(t, closed)
}

func TestRunAbortJoinsInFlightMove(t *testing.T) {
	dir := writeImages(t, 3)
	mover := &fakeMover{delay: time.Hour}

	e := New(&fakeStage{}, mover, lightengine.NewSim(), frames.NewSimDisplay(),
		WithLogSink(func(string) {}))

	go func() {
		time.Sleep(100 * time.Millisecond)
		e.Abort()
	}()

	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), Config{
			ImageDir:             dir,
			StepSizeMM:           0.05,
			DarkTimeMS:           1000,
			MaxImageDisplayCount: 1,
			FPS:                  200,
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after abort")
	}
	assert.Equal(t, int64(0), mover.inFlight.Load())
}

func TestRunMissingDirectoryFails(t *testing.T) {
	stage := &fakeStage{}
	display := frames.NewSimDisplay()
	e := New(stage, &fakeMover{}, lightengine.NewSim(), display, WithLogSink(func(string) {}))

	err := e.Run(context.Background(), Config{ImageDir: "/nonexistent/images"})
	require.Error(t, err)

	_, closed := stage.state()
	assert.True(t, closed)
	assert.True(t, display.Closed())
}

func TestRunDynamicAppliesSettingsPerEntry(t *testing.T) {
	dir := writeImages(t, 3)
	display := frames.NewSimDisplay()
	sim := lightengine.NewSim()
	require.NoError(t, sim.PowerOn())
	buf := &logBuffer{}

	e := New(&fakeStage{}, &fakeMover{delay: time.Millisecond}, sim, display, WithLogSink(buf.add))

	list := layers.List{
		{Setting: layers.Setting{Intensity: 100, ExposureFrames: 2, DarkTimeMS: 20}, Repeat: 1},
		{Setting: layers.Setting{Intensity: 200, ExposureFrames: 3, DarkTimeMS: 20}, Repeat: 2},
	}

	err := e.RunDynamic(context.Background(), Config{
		ImageDir:    dir,
		StepSizeMM:  0.05,
		FPS:         200,
		SettleDelay: time.Millisecond,
	}, list)
	require.NoError(t, err)

	// Layer 1 at intensity 100 for 2 frames, layers 2-3 at 200 for 3.
	light, _ := display.Frames()
	assert.Equal(t, 8, light)

	currents := sim.Currents()
	require.GreaterOrEqual(t, len(currents), 3)
	assert.Equal(t, uint8(100), currents[0])
	assert.Equal(t, uint8(200), currents[1])
	assert.Equal(t, uint8(0), currents[len(currents)-1])

	assert.True(t, buf.contains("Applying settings: Intensity 100"))
	assert.True(t, buf.contains("Applying settings: Intensity 200"))
}

func TestRunDynamicEmptyListFails(t *testing.T) {
	e := New(&fakeStage{}, &fakeMover{}, lightengine.NewSim(), frames.NewSimDisplay(),
		WithLogSink(func(string) {}))
	err := e.RunDynamic(context.Background(), Config{ImageDir: "unused"}, nil)
	require.Error(t, err)
}

func TestRunReportsProgress(t *testing.T) {
	dir := writeImages(t, 2)
	var mu sync.Mutex
	var seen []Progress

	e := New(&fakeStage{}, &fakeMover{delay: time.Millisecond}, lightengine.NewSim(),
		frames.NewSimDisplay(),
		WithLogSink(func(string) {}),
		WithProgress(func(p Progress) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		}))

	err := e.Run(context.Background(), Config{
		ImageDir:             dir,
		StepSizeMM:           0.05,
		DarkTimeMS:           20,
		MaxImageDisplayCount: 1,
		FPS:                  200,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, PhaseLight, seen[0].Phase)
	assert.Equal(t, "static", seen[0].Mode)
	var phases []string
	for _, p := range seen {
		phases = append(phases, p.Phase)
	}
	assert.Contains(t, phases, PhaseDark)
}
