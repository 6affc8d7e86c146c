package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Turn L-band RXM-PMP messages into corrections for the
 *		GNSS receiver.
 *
 * Description:	The L-band receiver demodulates the satellite stream and
 *		reports it as UBX-RXM-PMP.  The GNSS receiver accepts that
 *		very frame on its input, so the frame is put back together
 *		from the fields it was split into and queued with the
 *		L-band source tag.
 *
 *		Layout of the rebuilt frame:
 *
 *			sync1 sync2 class id lenLSB lenMSB	6
 *			payload					L
 *			ckA ckB					2
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// Largest RXM-PMP payload the L-band receiver produces.
const UBX_RXM_PMP_MAX_LEN = 528

// Offset of the Eb/N0 field (units of 0.125 dB) in the RXM-PMP payload.
const pmpEbN0Offset = 22

var (
	ErrNotPMP       = errors.New("not an RXM-PMP frame")
	ErrTruncatedPMP = errors.New("RXM-PMP payload shorter than declared length")
)

// PMPMessage holds an RXM-PMP message split into its fields, as the
// receiver driver delivers it.
type PMPMessage struct {
	Sync1     byte
	Sync2     byte
	Class     byte
	ID        byte
	LengthLSB byte
	LengthMSB byte
	Payload   []byte
	ChecksumA byte
	ChecksumB byte
}

// Length is the declared payload length.
func (m *PMPMessage) Length() int {
	return int(m.LengthMSB)<<8 | int(m.LengthLSB)
}

// EbN0 returns the signal quality in dB, or 0 if the payload is too short
// to carry it.
func (m *PMPMessage) EbN0() float64 {
	if len(m.Payload) <= pmpEbN0Offset {
		return 0
	}

	return 0.125 * float64(m.Payload[pmpEbN0Offset])
}

// ParsePMP splits a raw RXM-PMP frame into a PMPMessage.
// The payload is copied.
func ParsePMP(frame []byte) (*PMPMessage, error) {
	var f, err = DecodeUBX(frame)
	if err != nil {
		return nil, err
	}

	if f.Class != UBX_CLASS_RXM || f.ID != UBX_RXM_PMP {
		return nil, fmt.Errorf("%w: %s", ErrNotPMP, f)
	}

	var m = &PMPMessage{
		Sync1:     frame[0],
		Sync2:     frame[1],
		Class:     frame[2],
		ID:        frame[3],
		LengthLSB: frame[4],
		LengthMSB: frame[5],
		Payload:   append([]byte(nil), f.Payload...),
		ChecksumA: frame[len(frame)-2],
		ChecksumB: frame[len(frame)-1],
	}

	return m, nil
}

// PMPFrameSize is the size of the rebuilt frame for msg.
func PMPFrameSize(msg *PMPMessage) int {
	return msg.Length() + ubxOverheadLen
}

// ReconstructPMP rebuilds the transport frame for msg and returns it as an
// L-band correction.  Nothing is returned if the payload is shorter than
// the declared length.
func ReconstructPMP(msg *PMPMessage) (*Correction, error) {
	var size = msg.Length()

	if len(msg.Payload) < size {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrTruncatedPMP, size, len(msg.Payload))
	}

	var buf = make([]byte, size+ubxOverheadLen)
	buf[0] = msg.Sync1
	buf[1] = msg.Sync2
	buf[2] = msg.Class
	buf[3] = msg.ID
	buf[4] = msg.LengthLSB
	buf[5] = msg.LengthMSB
	copy(buf[ubxHeaderLen:], msg.Payload[:size])
	buf[size+6] = msg.ChecksumA
	buf[size+7] = msg.ChecksumB

	return newCorrectionOwned(SourceLBand, buf), nil
}

// CorrectionInjector accepts correction bytes.  Satisfied by *Gnss.
type CorrectionInjector interface {
	Inject(data []byte, src Source) int
	InjectCorrection(c *Correction) int
}

// PMPForwarder is the L-band receiver's RXM-PMP callback.  It only builds
// the correction and hands it over.  It never touches arbitration state.
type PMPForwarder struct {
	sink CorrectionInjector
	log  *log.Logger
}

func NewPMPForwarder(sink CorrectionInjector, logger *log.Logger) *PMPForwarder {
	return &PMPForwarder{sink: sink, log: logger}
}

// OnPMP returns the number of bytes queued, 0 if the message was dropped.
func (p *PMPForwarder) OnPMP(msg *PMPMessage) int {
	if msg == nil {
		return 0
	}

	var c, err = ReconstructPMP(msg)
	if err != nil {
		p.log.Error("received RXM-PMP, dropped", "bytes", PMPFrameSize(msg), "ebn0", msg.EbN0(), "err", err)
		return 0
	}

	p.log.Info("received RXM-PMP", "bytes", c.Len(), "ebn0", fmt.Sprintf("%.1f dB", msg.EbN0()))

	return p.sink.InjectCorrection(c)
}

// OnFrame parses a raw frame from the receiver and forwards it.
func (p *PMPForwarder) OnFrame(frame []byte) int {
	var msg, err = ParsePMP(frame)
	if err != nil {
		p.log.Warn("bad RXM-PMP frame", "bytes", len(frame), "err", err)
		return 0
	}

	return p.OnPMP(msg)
}
