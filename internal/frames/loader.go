package frames

import (
	"fmt"
	"image"
	_ "image/png" // slice images are PNG
	"os"
)

// Loader double-buffers exposure textures: the active slot is what the
// engine presents while the other slot absorbs the next image's decode.
type Loader struct {
	slots  [2]image.Image
	active int
}

// NewLoader decodes the first image into the active slot.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{}
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	l.slots[0] = img
	return l, nil
}

// Active returns the image currently being exposed.
func (l *Loader) Active() image.Image { return l.slots[l.active] }

// Preload decodes path into the inactive slot.
func (l *Loader) Preload(path string) error {
	img, err := decode(path)
	if err != nil {
		return err
	}
	l.slots[1-l.active] = img
	return nil
}

// Swap flips the buffers, promoting the preloaded image to active.
func (l *Loader) Swap() { l.active = 1 - l.active }

// Slot reports the active slot index, 0 or 1.
func (l *Loader) Slot() int { return l.active }

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("frames: open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("frames: decode %s: %w", path, err)
	}
	return img, nil
}
