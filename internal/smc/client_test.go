package smc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordPort captures written bytes and serves a canned response.
type recordPort struct {
	wrote    strings.Builder
	response []byte
	flushed  int
}

func (p *recordPort) Write(b []byte) (int, error) {
	p.wrote.Write(b)
	return len(b), nil
}

func (p *recordPort) Read(b []byte) (int, error) {
	if len(p.response) == 0 {
		return 0, nil
	}
	n := copy(b, p.response)
	p.response = p.response[n:]
	return n, nil
}

func (p *recordPort) Close() error { return nil }

func (p *recordPort) ResetInputBuffer() error {
	p.flushed++
	return nil
}

func TestSetCommandWireFormat(t *testing.T) {
	p := &recordPort{}
	c := NewClient(p)

	require.NoError(t, c.SetVelocity(5))
	assert.Equal(t, "1VA5.000000\r\n", p.wrote.String())
}

func TestRelativeMoveWireFormat(t *testing.T) {
	p := &recordPort{}
	c := NewClient(p)

	require.NoError(t, c.RelativeMove(-0.05))
	assert.Equal(t, "1PR-0.050000\r\n", p.wrote.String())
}

func TestHomeWireFormat(t *testing.T) {
	p := &recordPort{}
	c := NewClient(p)

	require.NoError(t, c.Home())
	assert.Equal(t, "1OR\r\n", p.wrote.String())
}

func TestGetPositionFlushesAndQueries(t *testing.T) {
	p := &recordPort{response: []byte("1TP012.34\r\n")}
	c := NewClient(p)

	resp, err := c.GetPosition()
	require.NoError(t, err)
	assert.Equal(t, "1TP012.34\r\n", resp)
	assert.Equal(t, "1TP?\r\n", p.wrote.String())
	assert.Equal(t, 1, p.flushed)
}

func TestGetCurrentStatusMapsCode(t *testing.T) {
	p := &recordPort{response: []byte("1TS000028\r\n")}
	c := NewClient(p)

	st, err := c.GetCurrentStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusMoving, st.Type)
}

func TestGetCurrentStatusUnknownCode(t *testing.T) {
	p := &recordPort{response: []byte("1TS0000ZZ\r\n")}
	c := NewClient(p)

	st, err := c.GetCurrentStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st.Type)
	assert.Equal(t, "Unknown Status Code: ZZ", st.String())
}

func TestGetLastError(t *testing.T) {
	p := &recordPort{response: []byte("1TE@\r\n")}
	c := NewClient(p)

	msg, err := c.GetLastError()
	require.NoError(t, err)
	assert.Equal(t, "No Error Encountered", msg)
}

func TestClosedClientErrors(t *testing.T) {
	c := NewClient(&recordPort{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	assert.ErrorIs(t, c.Home(), ErrNotOpen)
	_, err := c.GetPosition()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSimPortMoveCycle(t *testing.T) {
	sim := NewSimPort()
	sim.MoveDuration = 0
	c := NewClient(sim)

	require.NoError(t, c.RelativeMove(1.5))
	st, err := c.GetCurrentStatus()
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st.Type)

	resp, err := c.GetPosition()
	require.NoError(t, err)
	v, err := ParsePosition(resp)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 0.01)
}
