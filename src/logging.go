package hpgmux

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger makes the root logger.  Components get a child with their
// own prefix.
func NewLogger(level string, w io.Writer) (*log.Logger, error) {
	var lvl, err = log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var logger = log.NewWithOptions(w, log.Options{ //nolint:exhaustruct
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
		Level:           lvl,
	})

	return logger, nil
}
