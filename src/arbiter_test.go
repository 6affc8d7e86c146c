package hpgmux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var t0 = time.Date(2025, 7, 10, 21, 35, 42, 0, time.UTC)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// arbiterWithActive returns an arbiter where src became active at at.
func arbiterWithActive(t *testing.T, src Source, at time.Time) *Arbiter {
	t.Helper()

	var a = NewArbiter(DefaultSourceTimeout, at.Add(-time.Hour))

	var _, change = a.OnMessage(src, at)
	assert.True(t, change)
	a.Confirm()
	assert.Equal(t, src, a.Active())

	return a
}

func TestArbiter_FirstMessageSwitches(t *testing.T) {
	for _, src := range []Source{SourceWLAN, SourceLTE, SourceLBand} {
		var a = NewArbiter(DefaultSourceTimeout, t0)
		assert.Equal(t, SourceOther, a.Active())

		var cmd, change = a.OnMessage(src, t0)
		assert.True(t, change, src.String())
		assert.Equal(t, ModeFor(src), cmd.Mode)
		assert.Equal(t, src, a.Active())
	}
}

func TestArbiter_FirstSPARTNSourceIsSticky(t *testing.T) {
	var a = NewArbiter(DefaultSourceTimeout, t0)

	var cmd, change = a.OnMessage(SourceWLAN, t0)
	assert.True(t, change, "mode 0 is written too")
	assert.Equal(t, UseSourceSPARTN, cmd.Mode)
	a.Confirm()

	_, change = a.OnMessage(SourceLBand, t0.Add(time.Second))
	assert.False(t, change)
	assert.Equal(t, SourceWLAN, a.Active())
}

func TestArbiter_UnspecifiedIgnored(t *testing.T) {
	var a = NewArbiter(DefaultSourceTimeout, t0)

	var _, change = a.OnMessage(SourceOther, t0)
	assert.False(t, change)
	assert.Equal(t, SourceOther, a.Active())
	assert.True(t, a.LastSeen(SourceOther).IsZero())
}

func TestArbiter_StartsTimedOut(t *testing.T) {
	var a = NewArbiter(DefaultSourceTimeout, t0)

	for _, src := range []Source{SourceWLAN, SourceLTE, SourceLBand} {
		assert.Equal(t, t0.Add(-DefaultSourceTimeout), a.LastSeen(src))
	}
}

func TestArbiter_LBandNeverSticky(t *testing.T) {
	var a = arbiterWithActive(t, SourceLBand, t0)

	var cmd, change = a.OnMessage(SourceLTE, t0.Add(ms(10)))
	assert.True(t, change)
	assert.Equal(t, UseSourceSPARTN, cmd.Mode)
	assert.Equal(t, SourceLTE, cmd.Source)
	assert.Equal(t, SourceLTE, a.Active())
}

func TestArbiter_CellularHoldsUntilTimeout(t *testing.T) {
	var a = arbiterWithActive(t, SourceLTE, t0)

	var _, change = a.OnMessage(SourceLBand, t0.Add(ms(11999)))
	assert.False(t, change)
	assert.Equal(t, SourceLTE, a.Active())

	var cmd, later = a.OnMessage(SourceLBand, t0.Add(ms(12001)))
	assert.True(t, later)
	assert.Equal(t, UseSourcePMP, cmd.Mode)
	assert.Equal(t, SourceLBand, a.Active())
}

func TestArbiter_TimeoutIsStrict(t *testing.T) {
	var a = arbiterWithActive(t, SourceWLAN, t0)

	var _, change = a.OnMessage(SourceLBand, t0.Add(ms(12000)))
	assert.False(t, change, "exactly the timeout is not stale yet")
}

func TestArbiter_LBandDoesNotRefreshCellular(t *testing.T) {
	// L-band traffic while cellular is active must not keep cellular alive.
	var a = arbiterWithActive(t, SourceLTE, t0)

	for i := 1; i <= 12; i++ {
		a.OnMessage(SourceLBand, t0.Add(time.Duration(i)*time.Second))
	}

	assert.Equal(t, SourceLTE, a.Active())

	var _, change = a.OnMessage(SourceLBand, t0.Add(ms(12500)))
	assert.True(t, change)
}

func TestArbiter_SameModeNoSwitch(t *testing.T) {
	var a = arbiterWithActive(t, SourceWLAN, t0)

	var _, change = a.OnMessage(SourceLTE, t0.Add(time.Minute))
	assert.False(t, change)
	assert.Equal(t, SourceWLAN, a.Active())
	assert.Equal(t, t0.Add(time.Minute), a.LastSeen(SourceLTE))
}

func TestArbiter_RetryAfterFailedWrite(t *testing.T) {
	var a = arbiterWithActive(t, SourceLTE, t0)

	var _, change = a.OnMessage(SourceLBand, t0.Add(time.Minute))
	assert.True(t, change)
	a.ReconfigureFailed()

	// Not rolled back.
	assert.Equal(t, SourceLBand, a.Active())

	var cmd, again = a.OnMessage(SourceLBand, t0.Add(time.Minute+time.Second))
	assert.True(t, again, "command repeated after failure")
	assert.Equal(t, UseSourcePMP, cmd.Mode)

	a.Confirm()

	var _, more = a.OnMessage(SourceLBand, t0.Add(time.Minute+2*time.Second))
	assert.False(t, more)
}

func TestArbiter_Reset(t *testing.T) {
	var a = arbiterWithActive(t, SourceWLAN, t0)

	a.Reset()
	assert.Equal(t, SourceOther, a.Active())

	// WLAN is still fresh but the receiver lost its setting.
	var cmd, change = a.OnMessage(SourceWLAN, t0.Add(time.Second))
	assert.True(t, change)
	assert.Equal(t, UseSourceSPARTN, cmd.Mode)
}

func TestUseSourceString(t *testing.T) {
	assert.Equal(t, "0-SPARTN", UseSourceSPARTN.String())
	assert.Equal(t, "1-PMP", UseSourcePMP.String())
}

func TestArbiter_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var a = NewArbiter(DefaultSourceTimeout, t0)
		var now = t0

		var steps = rapid.IntRange(1, 100).Draw(t, "steps")

		for i := 0; i < steps; i++ {
			now = now.Add(time.Duration(rapid.IntRange(0, 20000).Draw(t, "gap")) * time.Millisecond)

			var src = Source(rapid.IntRange(0, 3).Draw(t, "source"))
			var before = a.Active()

			var cmd, change = a.OnMessage(src, now)

			if !src.Arbitrated() {
				assert.False(t, change)
				assert.Equal(t, before, a.Active())

				continue
			}

			assert.Equal(t, now, a.LastSeen(src))

			if change {
				// A command always asks for the mode of the source that caused it.
				assert.Equal(t, ModeFor(src), cmd.Mode)
				assert.Equal(t, src, a.Active())
				a.Confirm()

				continue
			}

			assert.Equal(t, before, a.Active())

			// A differing mode is only refused while a non-L-band source is fresh.
			if ModeFor(src) != ModeFor(before) {
				assert.NotEqual(t, SourceLBand, before)
				assert.NotEqual(t, SourceOther, before)
			}
		}
	})
}
