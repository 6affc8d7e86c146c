package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Decide which correction source drives the receiver's
 *		SPARTN decoder.
 *
 * Description:	The receiver decodes either the IP (SPARTN) stream or the
 *		L-band (PMP) stream, selected by CFG-SPARTN-USE_SOURCE.
 *
 *		L-band is a fallback.  Any IP source preempts it at once.
 *		An active IP source keeps the decoder until it has been
 *		silent for longer than the timeout, so a flaky network and
 *		an intermittent satellite signal do not make the receiver
 *		flip back and forth.
 *
 *		Only the poll loop calls into the arbiter.  No locking.
 *
 *---------------------------------------------------------------*/

import (
	"time"
)

// DefaultSourceTimeout is how long the active IP source may stay silent
// before another source can take over.
const DefaultSourceTimeout = 12000 * time.Millisecond

// UseSource is the value written to CFG-SPARTN-USE_SOURCE.
type UseSource uint8

const (
	UseSourceSPARTN UseSource = 0
	UseSourcePMP    UseSource = 1
)

func (m UseSource) String() string {
	if m == UseSourcePMP {
		return "1-PMP"
	}

	return "0-SPARTN"
}

// ModeFor maps a source onto the decoder mode it needs.
func ModeFor(src Source) UseSource {
	if src == SourceLBand {
		return UseSourcePMP
	}

	return UseSourceSPARTN
}

// ReconfigureCommand asks the caller to write Mode to the receiver.
type ReconfigureCommand struct {
	Mode   UseSource
	Source Source // The source that caused the change.
}

type Arbiter struct {
	timeout  time.Duration
	lastSeen [numArbitratedSources]time.Time
	active   Source

	// Last command was not confirmed; reissue it.
	retry bool
}

// NewArbiter returns an arbiter with every source already timed out at now.
func NewArbiter(timeout time.Duration, now time.Time) *Arbiter {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}

	var a = &Arbiter{
		timeout: timeout,
		active:  SourceOther,
	}

	for i := range a.lastSeen {
		a.lastSeen[i] = now.Add(-timeout)
	}

	return a
}

func (a *Arbiter) timedOut(src Source, now time.Time) bool {
	if !src.Arbitrated() {
		return true
	}

	return now.Sub(a.lastSeen[src]) > a.timeout
}

// OnMessage records a message from src at now and returns a command if the
// receiver must be reconfigured.
//
// The active source is updated as soon as a command is returned.  If the
// caller cannot apply it, it reports ReconfigureFailed and the command is
// repeated on the next message that agrees with the active source.
func (a *Arbiter) OnMessage(src Source, now time.Time) (ReconfigureCommand, bool) {
	if !src.Arbitrated() {
		return ReconfigureCommand{}, false
	}

	a.lastSeen[src] = now

	var desired = ModeFor(src)

	// Nothing chosen yet, e.g. right after detection.  The receiver's
	// current setting is unknown so always write it, even for mode 0,
	// and the first source becomes sticky like any other.
	if a.active == SourceOther {
		a.active = src
		return ReconfigureCommand{Mode: desired, Source: src}, true
	}

	var current = ModeFor(a.active)

	if desired == current {
		if a.retry {
			return ReconfigureCommand{Mode: desired, Source: src}, true
		}

		return ReconfigureCommand{}, false
	}

	if a.active == SourceLBand || a.timedOut(a.active, now) {
		a.active = src
		return ReconfigureCommand{Mode: desired, Source: src}, true
	}

	return ReconfigureCommand{}, false
}

// Confirm reports that the last command was written.
func (a *Arbiter) Confirm() {
	a.retry = false
}

// ReconfigureFailed reports that the last command was rejected by the
// receiver.  The active source is not rolled back.
func (a *Arbiter) ReconfigureFailed() {
	a.retry = true
}

// Reset forgets the active source.  Used after the receiver was detected
// again and has lost its RAM configuration.
func (a *Arbiter) Reset() {
	a.active = SourceOther
	a.retry = false
}

func (a *Arbiter) Active() Source {
	return a.active
}

// LastSeen returns when src was last processed.
func (a *Arbiter) LastSeen(src Source) time.Time {
	if !src.Arbitrated() {
		return time.Time{}
	}

	return a.lastSeen[src]
}
