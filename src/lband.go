package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	The NEO-D9S L-band receiver.
 *
 * Description:	Once configured the receiver demodulates the SPARTN
 *		satellite broadcast and emits every data block as
 *		UBX-RXM-PMP.  Those are turned back into frames and queued
 *		for the GNSS receiver, tagged as L-band.
 *
 *		Detection is retried while offline.  A new center frequency
 *		can be requested from any goroutine.  It is applied by the
 *		next Poll and followed by a GNSS-only software reset so the
 *		demodulator locks onto it.
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// PMP parameters of the SPARTN L-band service.
const (
	pmpSearchWindow     = 2200
	pmpUseServiceID     = 0
	pmpServiceID        = 21845
	pmpDataRate         = 2400
	pmpUseDescrambler   = 1
	pmpDescramblerInit  = 26969
	pmpUsePrescrambling = 0
	pmpUniqueWord       = 16238547128276412563

	// Rate of RXM-PMP output relative to the measurement rate.
	pmpOutputRate = 1

	lbandUARTBaud = 38400
)

// resetGNSSOnly is the CFG-RST payload for a controlled software reset of
// the GNSS part only, keeping the configuration in RAM.
var resetGNSSOnly = []byte{0x00, 0x00, 0x02, 0x00}

type LBandReceiver struct {
	open       func() (io.ReadWriteCloser, error)
	dev        *ubxDevice
	ackTimeout time.Duration
	retry      time.Duration
	forwarder  *PMPForwarder
	log        *log.Logger

	// Poll goroutine only.
	online  bool
	nextTry time.Time

	frequency atomic.Uint32
	pending   atomic.Bool
}

func NewLBandReceiver(cfg LBandConfig, forwarder *PMPForwarder, logger *log.Logger) *LBandReceiver {
	var r = &LBandReceiver{
		ackTimeout: cfg.AckTimeout,
		retry:      cfg.DetectRetry,
		forwarder:  forwarder,
		log:        logger,
	}

	if r.retry <= 0 {
		r.retry = DefaultDetectRetry
	}

	r.frequency.Store(cfg.Frequency)

	r.open = func() (io.ReadWriteCloser, error) {
		return openPort(cfg.Device, cfg.Baud, logger)
	}

	return r
}

func (r *LBandReceiver) configSequence() []configStep {
	return []configStep{
		{
			{Key: CFG_PMP_CENTER_FREQUENCY, Value: uint64(r.frequency.Load())},
			{Key: CFG_PMP_SEARCH_WINDOW, Value: pmpSearchWindow},
			{Key: CFG_PMP_USE_SERVICE_ID, Value: pmpUseServiceID},
			{Key: CFG_PMP_SERVICE_ID, Value: pmpServiceID},
			{Key: CFG_PMP_DATA_RATE, Value: pmpDataRate},
			{Key: CFG_PMP_USE_DESCRAMBLER, Value: pmpUseDescrambler},
			{Key: CFG_PMP_DESCRAMBLER_INIT, Value: pmpDescramblerInit},
			{Key: CFG_PMP_USE_PRESCRAMBLING, Value: pmpUsePrescrambling},
			{Key: CFG_PMP_UNIQUE_WORD, Value: pmpUniqueWord},
		},
		{
			{Key: CFG_MSGOUT_UBX_RXM_PMP_I2C, Value: pmpOutputRate},
			{Key: CFG_MSGOUT_UBX_RXM_PMP_UART1, Value: pmpOutputRate},
			{Key: CFG_MSGOUT_UBX_RXM_PMP_UART2, Value: pmpOutputRate},
			{Key: CFG_MSGOUT_UBX_RXM_PMP_USB, Value: pmpOutputRate},
		},
		{
			{Key: CFG_UART1_BAUDRATE, Value: lbandUARTBaud},
			{Key: CFG_UART2_BAUDRATE, Value: lbandUARTBaud},
		},
	}
}

// Detect probes and configures the receiver.  Poll goroutine only.
func (r *LBandReceiver) Detect() bool {
	if r.dev != nil && !r.dev.Alive() {
		r.dev.Close()
		r.dev = nil
	}

	if r.dev == nil {
		var port, err = r.open()
		if err != nil {
			r.log.Debug("detect failed", "err", err)
			return false
		}

		r.dev = newUBXDevice(port, r.log, r.ackTimeout)
		r.dev.Handle(UBX_CLASS_RXM, UBX_RXM_PMP, func(frame []byte) {
			r.forwarder.OnFrame(frame)
		})
		r.dev.start()
	}

	var _, verErr = r.dev.probeVersion()
	if verErr != nil {
		r.log.Debug("detect failed", "err", verErr)
		return false
	}

	r.log.Info("detect receiver detected")

	// The frequency goes out with the sequence.
	r.pending.Store(false)

	var step, err = r.dev.runConfigSequence(VAL_LAYER_RAM, r.configSequence())
	if err != nil {
		r.log.Error("detect configuration, sequence failed", "step", step, "err", err)
		return false
	}

	r.log.Info("configuration complete, receiver online", "frequency", r.frequency.Load())

	return true
}

// SetFrequency requests a new center frequency in Hz.  Safe to call from
// any goroutine.
func (r *LBandReceiver) SetFrequency(hz uint32) {
	if r.frequency.Swap(hz) != hz {
		r.pending.Store(true)
	}
}

func (r *LBandReceiver) Frequency() uint32 {
	return r.frequency.Load()
}

// Poll must be called regularly from a single goroutine.
func (r *LBandReceiver) Poll(now time.Time) {
	if !r.online {
		if now.Before(r.nextTry) {
			return
		}

		r.nextTry = now.Add(r.retry)
		r.online = r.Detect()

		return
	}

	if r.dev != nil && !r.dev.Alive() {
		r.log.Warn("receiver link lost")
		r.online = false

		return
	}

	if r.pending.Swap(false) {
		r.applyFrequency()
	}
}

func (r *LBandReceiver) applyFrequency() {
	var hz = r.frequency.Load()

	var err = r.dev.SendCommand(EncodeValSet(VAL_LAYER_RAM, ConfigValue{Key: CFG_PMP_CENTER_FREQUENCY, Value: uint64(hz)}))
	if err != nil {
		r.log.Error("frequency update failed", "frequency", hz, "err", err)
		r.online = false

		return
	}

	// CFG-RST is not acknowledged.
	var rstErr = r.dev.Write(EncodeUBX(UBX_CLASS_CFG, UBX_CFG_RST, resetGNSSOnly))
	if rstErr != nil {
		r.log.Error("frequency update, reset failed", "frequency", hz, "err", rstErr)
		r.online = false

		return
	}

	r.log.Info("frequency updated", "frequency", hz)
}

// Online reports the receiver state.  Poll goroutine only.
func (r *LBandReceiver) Online() bool {
	return r.online
}

func (r *LBandReceiver) Close() error {
	if r.dev == nil {
		return nil
	}

	var err = r.dev.Close()
	r.dev = nil

	return err
}
