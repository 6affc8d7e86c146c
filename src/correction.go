package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Correction buffers handed from producers to the receiver.
 *
 * Description:	A correction is a private copy of the bytes received from
 *		one source.  It has exactly one owner at any time:
 *
 *			producer  -> queue		on successful enqueue
 *			queue     -> poll loop		on dequeue
 *
 *		Whoever holds it when its life ends calls Release.
 *		The counters below make a leak or a double release visible,
 *		the same way the received frame queue tracks new/delete.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"strings"
	"sync/atomic"
)

// Source identifies where correction data came from.
type Source int

const (
	SourceWLAN  Source = iota // Correction stream received over WLAN.
	SourceLTE                 // Correction stream received over the cellular modem.
	SourceLBand               // Satellite L-band (PMP) stream.
	SourceOther               // Keys, assistance data. Never arbitrated.
)

// Number of sources that take part in source arbitration.
const numArbitratedSources = int(SourceOther)

func (s Source) String() string {
	switch s {
	case SourceWLAN:
		return "WLAN"
	case SourceLTE:
		return "LTE"
	case SourceLBand:
		return "LBAND"
	default:
		return "other"
	}
}

// Arbitrated reports whether messages from s influence the receiver's
// correction source selection.
func (s Source) Arbitrated() bool {
	return s >= 0 && int(s) < numArbitratedSources
}

// ParseSource accepts the names used in the configuration file.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wlan", "wifi":
		return SourceWLAN, nil
	case "lte", "cellular":
		return SourceLTE, nil
	case "lband", "l-band", "pmp":
		return SourceLBand, nil
	case "other", "", "unspecified":
		return SourceOther, nil
	}

	return SourceOther, errors.New("unknown correction source \"" + name + "\"")
}

// MaxCorrectionSize is the largest correction accepted, a UBX frame with
// the maximum 16 bit payload length plus header and checksum.
const MaxCorrectionSize = 65535 + 8

var (
	ErrEmptyCorrection    = errors.New("empty correction")
	ErrCorrectionTooLarge = errors.New("correction too large")
)

var (
	s_corrections_new      atomic.Int64
	s_corrections_released atomic.Int64
	s_corrections_double   atomic.Int64
)

// Correction is a single-owner buffer of correction bytes.
type Correction struct {
	source   Source
	data     []byte
	released atomic.Bool
}

// NewCorrection copies data into a new buffer tagged with src.
// It fails for empty input and for input larger than MaxCorrectionSize;
// callers treat that the same as a full queue.
func NewCorrection(src Source, data []byte) (*Correction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyCorrection
	}

	if len(data) > MaxCorrectionSize {
		return nil, ErrCorrectionTooLarge
	}

	var c = &Correction{
		source: src,
		data:   make([]byte, len(data)),
	}
	copy(c.data, data)

	s_corrections_new.Add(1)

	return c, nil
}

// newCorrectionOwned adopts buf without copying.  The caller must not use
// buf afterwards.
func newCorrectionOwned(src Source, buf []byte) *Correction {
	s_corrections_new.Add(1)

	return &Correction{source: src, data: buf}
}

func (c *Correction) Source() Source {
	return c.source
}

// Bytes returns the payload.  Not valid after Release.
func (c *Correction) Bytes() []byte {
	return c.data
}

func (c *Correction) Len() int {
	return len(c.data)
}

// Release frees the buffer.  A second Release is counted as an internal
// error and otherwise ignored.
func (c *Correction) Release() {
	if !c.released.CompareAndSwap(false, true) {
		s_corrections_double.Add(1)
		return
	}

	c.data = nil

	s_corrections_released.Add(1)
}

// CorrectionStats is a snapshot of the buffer accounting.
type CorrectionStats struct {
	Allocated      int64
	Released       int64
	DoubleReleased int64
}

// Outstanding is the number of buffers allocated but not yet released.
func (s CorrectionStats) Outstanding() int64 {
	return s.Allocated - s.Released
}

func CorrectionCounters() CorrectionStats {
	return CorrectionStats{
		Allocated:      s_corrections_new.Load(),
		Released:       s_corrections_released.Load(),
		DoubleReleased: s_corrections_double.Load(),
	}
}
