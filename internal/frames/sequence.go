// Package frames handles the exposure image sequence and the render
// surface the print engine presents to.
package frames

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Slice names follow SEC_<n>.PNG; the numeric token dictates order.
var secPattern = regexp.MustCompile(`SEC_(\d+)\.PNG`)

// Sequence lists the files under dir ordered for exposure: numeric token
// order where the SEC pattern matches, lexical otherwise.
func Sequence(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("frames: read dir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	SortPaths(paths)
	return paths, nil
}

// SortPaths orders slice paths in place by their embedded numeric token,
// so SEC_2.PNG sorts before SEC_10.PNG. Paths without the token fall
// back to lexical order.
func SortPaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, aok := secNumber(paths[i])
		b, bok := secNumber(paths[j])
		if aok && bok {
			return a < b
		}
		return paths[i] < paths[j]
	})
}

func secNumber(path string) (int, bool) {
	m := secPattern.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
