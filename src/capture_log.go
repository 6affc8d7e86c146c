package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:	Save a record of every correction pushed to the receiver.
 *
 * Description: One CSV line per correction, for working out later which
 *		source was feeding the receiver and when the decoder input
 *		was switched.
 *
 *		The file name comes from a strftime pattern, evaluated in
 *		UTC for every record.  With the default pattern that gives
 *		one file per day.  A pattern without conversions gives a
 *		single file, typically kept in size by logrotate.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

var captureHeader = []string{"utime", "isotime", "source", "bytes", "active", "mode"}

type CaptureLog struct {
	dir     string
	pattern *strftime.Strftime
	log     *log.Logger

	mu        sync.Mutex
	fp        *os.File
	w         *csv.Writer
	openFname string
}

// OpenCaptureLog checks the pattern and creates dir if needed.  Parent
// directories must exist, like mkdir without -p.
func OpenCaptureLog(dir, pattern string, logger *log.Logger) (*CaptureLog, error) {
	if dir == "" {
		dir = "."
	}

	var p, patternErr = strftime.New(pattern)
	if patternErr != nil {
		return nil, fmt.Errorf("capture file name %q: %w", pattern, patternErr)
	}

	var stat, statErr = os.Stat(dir)
	if statErr == nil {
		if !stat.IsDir() {
			return nil, fmt.Errorf("capture location %q is not a directory", dir)
		}
	} else {
		var mkdirErr = os.Mkdir(dir, 0o755)
		if mkdirErr != nil {
			return nil, fmt.Errorf("failed to create capture location %q: %w", dir, mkdirErr)
		}

		logger.Info("capture location created", "dir", dir)
	}

	return &CaptureLog{dir: dir, pattern: p, log: logger}, nil
}

// Record appends one line.  Errors are logged, a capture problem never
// holds up the correction path.
func (l *CaptureLog) Record(t time.Time, src Source, size int, active Source, mode UseSource) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t = t.UTC()

	var fname = l.pattern.FormatString(t)

	// Close current file if name has changed
	if l.fp != nil && fname != l.openFname {
		l.closeLocked()
	}

	if l.fp == nil {
		var openErr = l.openLocked(fname)
		if openErr != nil {
			l.log.Error("can't open capture file for write", "file", fname, "err", openErr)
			return
		}
	}

	var writeErr = l.w.Write([]string{
		strconv.FormatInt(t.Unix(), 10),
		t.Format("2006-01-02T15:04:05.000Z"),
		src.String(),
		strconv.Itoa(size),
		active.String(),
		mode.String(),
	})
	if writeErr == nil {
		l.w.Flush()
		writeErr = l.w.Error()
	}

	if writeErr != nil {
		l.log.Error("capture write failed", "file", fname, "err", writeErr)
		l.closeLocked()
	}
}

func (l *CaptureLog) openLocked(fname string) error {
	var fullPath = filepath.Join(l.dir, fname)

	// A header only goes into a new or empty file.
	var stat, statErr = os.Stat(fullPath)
	var alreadyThere = statErr == nil && stat.Size() > 0

	var f, err = os.OpenFile(fullPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	l.log.Info("opening capture file", "file", fullPath)

	l.fp = f
	l.w = csv.NewWriter(f)
	l.openFname = fname

	if !alreadyThere {
		var headerErr = l.w.Write(captureHeader)
		if headerErr == nil {
			l.w.Flush()
			headerErr = l.w.Error()
		}

		if headerErr != nil {
			l.closeLocked()
			return headerErr
		}
	}

	return nil
}

func (l *CaptureLog) closeLocked() {
	if l.fp == nil {
		return
	}

	l.w.Flush()
	l.fp.Close()

	l.fp = nil
	l.w = nil
	l.openFname = ""
}

func (l *CaptureLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked()
}
