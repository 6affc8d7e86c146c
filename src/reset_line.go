package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Hardware reset of a receiver that stopped answering.
 *
 * Description:	Boards that wire the receiver's RESET_N pin to a GPIO
 *		can have it pulsed after repeated failed detections.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const DefaultResetPulse = 100 * time.Millisecond

// gpioOutputLine is the part of *gpiocdev.Line used here.
type gpioOutputLine interface {
	SetValue(value int) error
	Close() error
}

type ResetLine struct {
	line gpioOutputLine
}

// OpenResetLine requests offset on chip (e.g. "gpiochip0") as an output,
// initially inactive.  With activeLow the pin is driven low to reset.
func OpenResetLine(chip string, offset int, activeLow bool) (*ResetLine, error) {
	var options = []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("hpgmux-reset"),
		gpiocdev.AsOutput(0),
	}

	if activeLow {
		options = append(options, gpiocdev.AsActiveLow)
	}

	var line, err = gpiocdev.RequestLine(chip, offset, options...)
	if err != nil {
		return nil, fmt.Errorf("reset line %s:%d: %w", chip, offset, err)
	}

	return &ResetLine{line: line}, nil
}

// Pulse asserts the reset for d, then releases it.
func (r *ResetLine) Pulse(d time.Duration) error {
	if d <= 0 {
		d = DefaultResetPulse
	}

	var err = r.line.SetValue(1)
	if err != nil {
		return err
	}

	time.Sleep(d)

	return r.line.SetValue(0)
}

func (r *ResetLine) Close() error {
	return r.line.Close()
}
