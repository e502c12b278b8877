package layers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingRoundTrip(t *testing.T) {
	s := Setting{Intensity: 100, ExposureFrames: 50, DarkTimeMS: 10}
	assert.Equal(t, 100, s.Intensity)
	assert.Equal(t, 50, s.ExposureFrames)
	assert.Equal(t, 10, s.DarkTimeMS)
}

func TestSettingOrdering(t *testing.T) {
	a := Setting{100, 50, 10}
	b := Setting{100, 50, 11}
	c := Setting{100, 51, 0}
	d := Setting{101, 0, 0}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.True(t, c.Less(d))
	assert.False(t, a.Less(a))
	assert.Equal(t, 0, a.Compare(Setting{100, 50, 10}))
}

func TestReadMergesDuplicates(t *testing.T) {
	src := `layer,intensity,exposureTime,darkTime
1,100,50,10
2,100,50,10
3,128,60,5
`
	list, err := Read(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, Entry{Setting{100, 50, 10}, 2}, list[0])
	assert.Equal(t, Entry{Setting{128, 60, 5}, 1}, list[1])
	assert.Equal(t, 3, list.TotalLayers())
}

func TestReadMergesNonAdjacentDuplicates(t *testing.T) {
	src := `layer,intensity,exposureTime,darkTime
1,100,50,10
2,128,60,5
3,100,50,10
4,100,50,10
`
	list, err := Read(strings.NewReader(src))
	require.NoError(t, err)

	// first-seen order, count accumulates across the gap
	require.Len(t, list, 2)
	assert.Equal(t, Setting{100, 50, 10}, list[0].Setting)
	assert.Equal(t, 3, list[0].Repeat)
	assert.Equal(t, 1, list[1].Repeat)
}

func TestReadSkipsMalformedRows(t *testing.T) {
	src := `layer,intensity,exposureTime,darkTime
1,100,50,10
garbage row
2,100,x,10
3,300,50,10
4,128,60,5
`
	list, err := Read(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Repeat)
	assert.Equal(t, 1, list[1].Repeat)
}

func TestReadEmptyInput(t *testing.T) {
	list, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReadHeaderOnly(t *testing.T) {
	list, err := Read(strings.NewReader("layer,intensity,exposureTime,darkTime\n"))
	require.NoError(t, err)
	assert.Empty(t, list)
}
