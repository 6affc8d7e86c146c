package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	The ZED-F9x GNSS receiver that consumes corrections.
 *
 * Description:	Detect opens the link if needed, identifies the receiver
 *		with MON-VER and runs the configuration sequence.  A
 *		failure is reported with the number of the failing step.
 *
 *		Everything is written to the RAM layer only.  After a
 *		power cycle the receiver is detected and configured again.
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// resetPulser is satisfied by *ResetLine.
type resetPulser interface {
	Pulse(d time.Duration) error
}

type ZEDReceiver struct {
	open       func() (io.ReadWriteCloser, error)
	dev        *ubxDevice
	ackTimeout time.Duration
	extra      []ConfigValue
	log        *log.Logger

	reset      resetPulser
	resetAfter int
	resetPulse time.Duration
	failures   int
}

func NewZEDReceiver(cfg ReceiverConfig, logger *log.Logger) *ZEDReceiver {
	var r = &ZEDReceiver{
		ackTimeout: cfg.AckTimeout,
		log:        logger,
		resetAfter: cfg.Reset.After,
		resetPulse: cfg.Reset.Pulse,
	}

	for _, item := range cfg.ExtraConfig {
		r.extra = append(r.extra, ConfigValue{Key: item.Key, Value: item.Value})
	}

	r.open = func() (io.ReadWriteCloser, error) {
		return openPort(cfg.Device, cfg.Baud, logger)
	}

	return r
}

// SetResetLine enables hardware reset after repeated failed detections.
func (r *ZEDReceiver) SetResetLine(line resetPulser) {
	r.reset = line
}

func (r *ZEDReceiver) configSequence() []configStep {
	var steps = []configStep{
		// Be sure SPARTN input is enabled next to UBX and NMEA.
		{
			{Key: CFG_UART1INPROT_UBX, Value: 1},
			{Key: CFG_UART1INPROT_NMEA, Value: 1},
			{Key: CFG_UART1INPROT_SPARTN, Value: 1},
		},
	}

	for _, v := range r.extra {
		steps = append(steps, configStep{v})
	}

	return steps
}

func (r *ZEDReceiver) Detect() bool {
	if r.dev != nil && !r.dev.Alive() {
		r.dev.Close()
		r.dev = nil
	}

	if r.dev == nil {
		var port, err = r.open()
		if err != nil {
			r.detectFailed("open", err)
			return false
		}

		r.dev = newUBXDevice(port, r.log, r.ackTimeout)
		r.dev.start()
	}

	var _, verErr = r.dev.probeVersion()
	if verErr != nil {
		r.detectFailed("probe", verErr)
		return false
	}

	r.log.Info("detect receiver detected")

	var step, err = r.dev.runConfigSequence(VAL_LAYER_RAM, r.configSequence())
	if err != nil {
		r.log.Error("detect configuration, sequence failed", "step", step, "err", err)
		r.detectFailed("configure", err)

		return false
	}

	r.failures = 0

	return true
}

func (r *ZEDReceiver) detectFailed(stage string, err error) {
	r.failures++
	r.log.Debug("detect failed", "stage", stage, "attempt", r.failures, "err", err)

	if r.reset == nil || r.resetAfter <= 0 || r.failures%r.resetAfter != 0 {
		return
	}

	r.log.Warn("receiver not responding, pulsing reset line", "attempts", r.failures)

	var resetErr = r.reset.Pulse(r.resetPulse)
	if resetErr != nil {
		r.log.Error("reset pulse failed", "err", resetErr)
	}
}

func (r *ZEDReceiver) Push(data []byte) bool {
	if r.dev == nil {
		return false
	}

	var err = r.dev.Write(data)
	if err != nil {
		r.log.Debug("push failed", "bytes", len(data), "err", err)
		return false
	}

	return true
}

func (r *ZEDReceiver) SetActiveSourceMode(mode UseSource) bool {
	if r.dev == nil {
		return false
	}

	var err = r.dev.SendCommand(EncodeValSet(VAL_LAYER_RAM, ConfigValue{Key: CFG_SPARTN_USE_SOURCE, Value: uint64(mode)}))
	if err != nil {
		r.log.Debug("set SPARTN source failed", "mode", mode, "err", err)
		return false
	}

	return true
}

func (r *ZEDReceiver) Close() error {
	if r.dev == nil {
		return nil
	}

	var err = r.dev.Close()
	r.dev = nil

	return err
}
