package smc

import (
	"fmt"
	"strconv"
	"strings"
)

// Get-responses are <address><code><value> with the value at a fixed
// byte offset. The controller emits no delimiter after the value prefix,
// so the slice lengths below are the only framing there is. They match
// the device and must not be changed without hardware validation.
const (
	valueOffset = 3

	PositionLen     = 6
	VelocityLen     = 4
	AccelerationLen = 2
	LimitLen        = 2

	statusOffset = 7
	statusLen    = 2
)

// StripCRLF removes every carriage-return and newline byte. Callers must
// strip before slicing at the fixed offsets.
func StripCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// ParseValue slices length bytes at the value offset of a stripped
// get-response and converts them to a float.
func ParseValue(resp string, length int) (float64, error) {
	resp = StripCRLF(resp)
	if len(resp) < valueOffset+length {
		return 0, fmt.Errorf("response %q too short for %d-byte value", resp, length)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp[valueOffset:valueOffset+length]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse value in %q: %w", resp, err)
	}
	return v, nil
}

// ParsePosition decodes a TP response. The raw string must be at least 9
// bytes once stripped, mirroring the length guard the hardware protocol
// requires before slicing.
func ParsePosition(resp string) (float64, error) {
	stripped := StripCRLF(resp)
	if len(stripped) < valueOffset+PositionLen {
		return 0, fmt.Errorf("position string %q too short", stripped)
	}
	return ParseValue(stripped, PositionLen)
}

// PositionField returns the raw 6-byte value substring of a TP
// response, as logged in position snapshots.
func PositionField(resp string) (string, error) {
	stripped := StripCRLF(resp)
	if len(stripped) < valueOffset+PositionLen {
		return "", fmt.Errorf("position string %q too short", stripped)
	}
	return stripped[valueOffset : valueOffset+PositionLen], nil
}

// ParseVelocity decodes a VA? response.
func ParseVelocity(resp string) (float64, error) {
	return ParseValue(resp, VelocityLen)
}

// ParseAcceleration decodes an AC? response.
func ParseAcceleration(resp string) (float64, error) {
	return ParseValue(resp, AccelerationLen)
}

// ParseLimit decodes an SL?/SR? response.
func ParseLimit(resp string) (float64, error) {
	return ParseValue(resp, LimitLen)
}

// parseStatusCode extracts the 2-char TS state code at its fixed offset.
func parseStatusCode(resp string) (string, error) {
	resp = StripCRLF(resp)
	if len(resp) < statusOffset+statusLen {
		return "", fmt.Errorf("status string %q too short", resp)
	}
	return resp[statusOffset : statusOffset+statusLen], nil
}
