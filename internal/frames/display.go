package frames

import (
	"image"
	"sync"
)

// Display is the render surface the engine drives once per frame. Show
// presents an exposure image, Blank presents a dark frame; both are the
// frame's single present point (the vsync wait in a windowed backend).
type Display interface {
	Show(img image.Image) error
	Blank() error
	Close() error
}

// SimDisplay is a headless surface that counts presented frames. It
// stands in for the projector window in tests and sim runs.
type SimDisplay struct {
	mu sync.Mutex

	light  int
	dark   int
	closed bool
}

func NewSimDisplay() *SimDisplay { return &SimDisplay{} }

func (d *SimDisplay) Show(image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.light++
	return nil
}

func (d *SimDisplay) Blank() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dark++
	return nil
}

func (d *SimDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Frames reports (light, dark) presented frame counts.
func (d *SimDisplay) Frames() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.light, d.dark
}

// Closed reports whether the surface was released.
func (d *SimDisplay) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
