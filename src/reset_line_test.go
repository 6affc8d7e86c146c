package hpgmux

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGPIODLine records what was driven onto the line.
type mockGPIODLine struct {
	values []int
	closed bool
	fail   error
}

func (m *mockGPIODLine) SetValue(v int) error {
	if m.fail != nil {
		return m.fail
	}

	m.values = append(m.values, v)

	return nil
}

func (m *mockGPIODLine) Close() error {
	m.closed = true
	return nil
}

func TestResetLine_Pulse(t *testing.T) {
	var mock = new(mockGPIODLine)
	var r = &ResetLine{line: mock}

	var start = time.Now()
	require.NoError(t, r.Pulse(20*time.Millisecond))

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []int{1, 0}, mock.values, "asserted then released")

	require.NoError(t, r.Close())
	assert.True(t, mock.closed)
}

func TestResetLine_PulseError(t *testing.T) {
	var mock = &mockGPIODLine{fail: errors.New("line busy")}
	var r = &ResetLine{line: mock}

	assert.Error(t, r.Pulse(time.Millisecond))
	assert.Empty(t, mock.values)
}

func TestOpenResetLine_NoChip(t *testing.T) {
	var _, err = OpenResetLine("gpiochip-does-not-exist", 0, true)
	assert.Error(t, err)
}
