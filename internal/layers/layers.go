// Package layers models the per-layer print settings ingested from a
// delimited settings file.
package layers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Setting is one layer's exposure profile. Immutable value type.
type Setting struct {
	Intensity      int // light-engine drive current, 0-255
	ExposureFrames int // light-phase duration in rendered frames
	DarkTimeMS     int // minimum dark-phase duration
}

// Compare orders settings lexicographically by
// (intensity, exposure frames, dark time).
func (s Setting) Compare(o Setting) int {
	if s.Intensity != o.Intensity {
		return s.Intensity - o.Intensity
	}
	if s.ExposureFrames != o.ExposureFrames {
		return s.ExposureFrames - o.ExposureFrames
	}
	return s.DarkTimeMS - o.DarkTimeMS
}

// Less reports whether s orders before o.
func (s Setting) Less(o Setting) bool { return s.Compare(o) < 0 }

func (s Setting) String() string {
	return fmt.Sprintf("intensity %d, exposure %d, dark %d ms",
		s.Intensity, s.ExposureFrames, s.DarkTimeMS)
}

// Entry pairs a setting with how many consecutive layers use it.
type Entry struct {
	Setting Setting
	Repeat  int
}

// List is an ordered, deduplicated settings sequence: entries keep
// first-seen order and each distinct setting appears exactly once, its
// Repeat accumulating every occurrence in the source.
type List []Entry

// TotalLayers sums the repeat counts.
func (l List) TotalLayers() int {
	n := 0
	for _, e := range l {
		n += e.Repeat
	}
	return n
}

// Read ingests rows of layer,intensity,exposureTime,darkTime after a
// header row. An exact-duplicate setting merges into the existing
// entry's count regardless of where it appears. Malformed rows are
// logged and skipped.
func Read(r io.Reader) (List, error) {
	sc := bufio.NewScanner(r)

	// header row
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("layers: read header: %w", err)
		}
		return nil, nil
	}

	var list List
	index := map[Setting]int{}
	row := 1
	for sc.Scan() {
		row++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s, err := parseRow(line)
		if err != nil {
			log.Warn().Int("row", row).Err(err).Msg("skipping malformed settings row")
			continue
		}
		if i, ok := index[s]; ok {
			list[i].Repeat++
			continue
		}
		index[s] = len(list)
		list = append(list, Entry{Setting: s, Repeat: 1})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("layers: scan: %w", err)
	}
	return list, nil
}

// ReadFile ingests a settings file from disk.
func ReadFile(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layers: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

func parseRow(line string) (Setting, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Setting{}, fmt.Errorf("want 4 fields, got %d", len(fields))
	}
	vals := make([]int, 4)
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Setting{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	s := Setting{Intensity: vals[1], ExposureFrames: vals[2], DarkTimeMS: vals[3]}
	if s.Intensity < 0 || s.Intensity > 255 {
		return Setting{}, fmt.Errorf("intensity %d out of range", s.Intensity)
	}
	if s.ExposureFrames < 1 {
		return Setting{}, fmt.Errorf("exposure frames %d < 1", s.ExposureFrames)
	}
	if s.DarkTimeMS < 0 {
		return Setting{}, fmt.Errorf("dark time %d < 0", s.DarkTimeMS)
	}
	return s, nil
}
