package smc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The offsets below are pinned to the device framing: value at byte 3,
// field-specific lengths, TS state code at byte 7. Do not adjust without
// hardware validation.

func TestParsePosition(t *testing.T) {
	v, err := ParsePosition("1TP012.34\r\n")
	require.NoError(t, err)
	assert.InDelta(t, 12.34, v, 1e-9)
}

func TestParsePositionTooShort(t *testing.T) {
	_, err := ParsePosition("1TP12\r\n")
	assert.Error(t, err)
}

func TestParsePositionStripsCRLF(t *testing.T) {
	// CR/LF bytes inside the buffer must be stripped before slicing,
	// otherwise the fixed offset lands on framing bytes.
	v, err := ParsePosition("\r\n1TP005.00\r\n")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-9)
}

func TestParseVelocity(t *testing.T) {
	v, err := ParseVelocity("1VA10.5\r\n")
	require.NoError(t, err)
	assert.InDelta(t, 10.5, v, 1e-9)
}

func TestParseAcceleration(t *testing.T) {
	v, err := ParseAcceleration("1AC20\r\n")
	require.NoError(t, err)
	assert.InDelta(t, 20, v, 1e-9)
}

func TestParseLimit(t *testing.T) {
	v, err := ParseLimit("1SR25\r\n")
	require.NoError(t, err)
	assert.InDelta(t, 25, v, 1e-9)
}

func TestParseStatusCodeOffset(t *testing.T) {
	code, err := parseStatusCode("1TS000033\r\n")
	require.NoError(t, err)
	assert.Equal(t, "33", code)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Ready", Status{Type: StatusReady, Code: "33"}.String())
	assert.Equal(t, "Unknown Status Code: ZZ", Status{Type: StatusUnknown, Code: "ZZ"}.String())
}
