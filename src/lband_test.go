package hpgmux

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLBand(t *testing.T) (*LBandReceiver, *simReceiver, *recordingInjector) {
	t.Helper()

	var sim, conn = newSimPair(t)
	var logger, _ = newTestLogger(t)
	var sink = &recordingInjector{accept: true}

	var r = NewLBandReceiver(LBandConfig{AckTimeout: testAckTimeout, Frequency: DefaultLBandFrequency}, NewPMPForwarder(sink, logger), logger)
	r.open = func() (io.ReadWriteCloser, error) {
		return conn, nil
	}

	return r, sim, sink
}

func TestLBandReceiver_Detect(t *testing.T) {
	var r, sim, _ = newTestLBand(t)

	require.True(t, r.Detect())

	var expect = map[uint32]uint64{
		CFG_PMP_CENTER_FREQUENCY:     DefaultLBandFrequency,
		CFG_PMP_SEARCH_WINDOW:        2200,
		CFG_PMP_USE_SERVICE_ID:       0,
		CFG_PMP_SERVICE_ID:           21845,
		CFG_PMP_DATA_RATE:            2400,
		CFG_PMP_USE_DESCRAMBLER:      1,
		CFG_PMP_DESCRAMBLER_INIT:     26969,
		CFG_PMP_USE_PRESCRAMBLING:    0,
		CFG_PMP_UNIQUE_WORD:          16238547128276412563,
		CFG_MSGOUT_UBX_RXM_PMP_UART1: 1,
		CFG_MSGOUT_UBX_RXM_PMP_USB:   1,
		CFG_UART1_BAUDRATE:           38400,
		CFG_UART2_BAUDRATE:           38400,
	}

	for key, want := range expect {
		var got, ok = sim.value(key)
		assert.True(t, ok, "key %08x", key)
		assert.Equal(t, want, got, "key %08x", key)
	}
}

func TestLBandReceiver_ForwardsPMP(t *testing.T) {
	var r, sim, sink = newTestLBand(t)

	r.Poll(t0)
	require.True(t, r.Online())

	var payload = make([]byte, 100)
	payload[pmpEbN0Offset] = 64

	sim.send(UBX_CLASS_RXM, UBX_RXM_PMP, payload)

	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()

		return len(sink.got) == 1
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	var c = sink.got[0]
	assert.Equal(t, SourceLBand, c.Source())
	assert.Equal(t, 108, c.Len())
	assert.Equal(t, EncodeUBX(UBX_CLASS_RXM, UBX_RXM_PMP, payload), c.Bytes())

	c.Release()
}

func TestLBandReceiver_DetectRetry(t *testing.T) {
	var logger, _ = newTestLogger(t)
	var r = NewLBandReceiver(LBandConfig{}, NewPMPForwarder(&recordingInjector{}, logger), logger)

	var opens = 0
	r.open = func() (io.ReadWriteCloser, error) {
		opens++
		return nil, errors.New("no such device")
	}

	r.Poll(t0)
	r.Poll(t0.Add(999 * time.Millisecond))
	assert.Equal(t, 1, opens)

	r.Poll(t0.Add(time.Second))
	assert.Equal(t, 2, opens)
	assert.False(t, r.Online())
}

func TestLBandReceiver_SetFrequency(t *testing.T) {
	var r, sim, _ = newTestLBand(t)

	r.Poll(t0)
	require.True(t, r.Online())

	r.SetFrequency(1545260000)
	assert.Equal(t, uint32(1545260000), r.Frequency())

	r.Poll(t0.Add(50 * time.Millisecond))
	assert.True(t, r.Online())

	var freq, _ = sim.value(CFG_PMP_CENTER_FREQUENCY)
	assert.Equal(t, uint64(1545260000), freq)

	var reset = EncodeUBX(UBX_CLASS_CFG, UBX_CFG_RST, []byte{0x00, 0x00, 0x02, 0x00})

	assert.Eventually(t, func() bool {
		for _, f := range sim.seen() {
			if f.Class == UBX_CLASS_CFG && f.ID == UBX_CFG_RST {
				return bytes.Equal(EncodeUBX(f.Class, f.ID, f.Payload), reset)
			}
		}

		return false
	}, time.Second, 10*time.Millisecond)
}

func TestLBandReceiver_SameFrequencyNotApplied(t *testing.T) {
	var r, sim, _ = newTestLBand(t)

	r.Poll(t0)
	require.True(t, r.Online())

	var before = len(sim.seen())

	r.SetFrequency(DefaultLBandFrequency)
	r.Poll(t0.Add(50 * time.Millisecond))

	assert.Len(t, sim.seen(), before)
}

func TestLBandReceiver_FrequencyUpdateFails(t *testing.T) {
	var r, sim, _ = newTestLBand(t)

	r.Poll(t0)
	require.True(t, r.Online())

	sim.nak(CFG_PMP_CENTER_FREQUENCY)

	r.SetFrequency(1545260000)
	r.Poll(t0.Add(50 * time.Millisecond))

	assert.False(t, r.Online())
}
