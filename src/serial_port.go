package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Open the byte link to a receiver.
 *
 * Description:	Normally a serial port (USB CDC or a UART).  The special
 *		name "pty" creates a pseudo terminal instead so a receiver
 *		simulator, or just a capture tool, can sit on the other end.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

// Name used in the configuration for a pseudo terminal.
const PseudoTerminalDevice = "pty"

// If more than this is still waiting in the UART output buffer the
// receiver is not reading and a push counts as failed.
const serialBacklogLimit = 16 * 1024

var ErrReceiverBacklog = errors.New("receiver is not reading, output backlog")

func openPort(device string, baud int, logger *log.Logger) (io.ReadWriteCloser, error) {
	if device == PseudoTerminalDevice {
		return openPseudoTerminal(logger)
	}

	return openSerialPort(device, baud)
}

type serialPort struct {
	*term.Term
}

func openSerialPort(devicename string, baud int) (io.ReadWriteCloser, error) {
	var fd, err = term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", devicename, err)
	}

	switch baud {
	case 0: /* Leave it alone. */
	case 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600:
		var speedErr = fd.SetSpeed(baud)
		if speedErr != nil {
			fd.Close()
			return nil, fmt.Errorf("serial port %s: set speed %d: %w", devicename, baud, speedErr)
		}
	default:
		fd.Close()
		return nil, fmt.Errorf("serial port %s: unsupported speed %d", devicename, baud)
	}

	return &serialPort{fd}, nil
}

func (p *serialPort) Write(data []byte) (int, error) {
	var pending, pendingErr = p.Term.Buffered()
	if pendingErr == nil && pending > serialBacklogLimit {
		return 0, ErrReceiverBacklog
	}

	return p.Term.Write(data)
}

// pseudoTerminal keeps the slave side open so reads on the master do not
// fail while nobody is attached.
type pseudoTerminal struct {
	master *os.File
	slave  *os.File
}

func openPseudoTerminal(logger *log.Logger) (io.ReadWriteCloser, error) {
	var ptmx, pts, err = pty.Open()
	if err != nil {
		return nil, fmt.Errorf("could not create pseudo terminal: %w", err)
	}

	var rawErr = makeRaw(int(pts.Fd()))
	if rawErr != nil {
		ptmx.Close()
		pts.Close()

		return nil, fmt.Errorf("pseudo terminal %s: %w", pts.Name(), rawErr)
	}

	logger.Info("virtual receiver port available", "device", pts.Name())

	return &pseudoTerminal{master: ptmx, slave: pts}, nil
}

func (p *pseudoTerminal) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

func (p *pseudoTerminal) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

func (p *pseudoTerminal) Close() error {
	var err = p.master.Close()
	p.slave.Close()

	return err
}

// makeRaw is cfmakeraw(3).  Binary UBX must pass through untouched.
func makeRaw(fd int) error {
	var tio, err = unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB
	tio.Cflag |= unix.CS8
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}
