package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Talk UBX to a receiver over a byte link.
 *
 * Description:	One goroutine reads the link and splits it into frames.
 *		Acknowledgements and poll replies are routed to whoever is
 *		waiting for them; other frames go to handlers registered
 *		by class and id.  Handlers run on the reader goroutine.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultAckTimeout is how long to wait for ACK or a poll reply.
const DefaultAckTimeout = 1100 * time.Millisecond

var (
	ErrAckTimeout   = errors.New("no response from receiver")
	ErrNak          = errors.New("receiver rejected command")
	ErrDeviceClosed = errors.New("receiver link closed")
)

type ubxDevice struct {
	port    io.ReadWriteCloser
	log     *log.Logger
	timeout time.Duration

	writeMu sync.Mutex
	cmdMu   sync.Mutex

	acks    chan UBXFrame
	replies chan UBXFrame

	mu       sync.Mutex
	handlers map[uint16]func(frame []byte)
	awaiting uint16
	polling  bool

	done chan struct{}
	err  error
}

func newUBXDevice(port io.ReadWriteCloser, logger *log.Logger, timeout time.Duration) *ubxDevice {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	return &ubxDevice{
		port:     port,
		log:      logger,
		timeout:  timeout,
		acks:     make(chan UBXFrame, 4),
		replies:  make(chan UBXFrame, 1),
		handlers: make(map[uint16]func(frame []byte)),
		done:     make(chan struct{}),
	}
}

// Handle registers fn for frames of class/id.  fn gets a private copy of
// the whole frame.
func (d *ubxDevice) Handle(class, id byte, fn func(frame []byte)) {
	d.mu.Lock()
	d.handlers[uint16(class)<<8|uint16(id)] = fn
	d.mu.Unlock()
}

func (d *ubxDevice) start() {
	go d.readLoop()
}

func (d *ubxDevice) readLoop() {
	defer close(d.done)

	var scanner = bufio.NewScanner(d.port)
	scanner.Buffer(make([]byte, 0, 4096), 2*MaxCorrectionSize)
	scanner.Split(ScanUBX)

	for scanner.Scan() {
		var raw = append([]byte(nil), scanner.Bytes()...)

		var f, err = DecodeUBX(raw)
		if err != nil {
			continue
		}

		if f.Class == UBX_CLASS_ACK {
			select {
			case d.acks <- f:
			default:
			}

			continue
		}

		d.mu.Lock()
		var handler = d.handlers[f.key()]
		var wanted = d.polling && d.awaiting == f.key()
		d.mu.Unlock()

		if wanted {
			select {
			case d.replies <- f:
			default:
			}
		}

		if handler != nil {
			handler(raw)
		}
	}

	d.err = scanner.Err()
	if d.err != nil {
		d.log.Debug("receiver link read ended", "err", d.err)
	}
}

// closedErr reports why the reader stopped.  Only valid once done is
// closed.
func (d *ubxDevice) closedErr() error {
	if d.err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceClosed, d.err)
	}

	return ErrDeviceClosed
}

// Alive is false once the reader has stopped, e.g. the device went away.
func (d *ubxDevice) Alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// Write sends raw bytes.
func (d *ubxDevice) Write(data []byte) error {
	if !d.Alive() {
		return d.closedErr()
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	var n, err = d.port.Write(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return io.ErrShortWrite
	}

	return nil
}

// SendCommand writes a CFG frame and waits for its ACK.
func (d *ubxDevice) SendCommand(frame []byte) error {
	var f, decodeErr = DecodeUBX(frame)
	if decodeErr != nil {
		return decodeErr
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	// Anything left over belongs to an earlier command that timed out.
	for len(d.acks) > 0 {
		<-d.acks
	}

	var writeErr = d.Write(frame)
	if writeErr != nil {
		return writeErr
	}

	var timer = time.NewTimer(d.timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-d.acks:
			if len(ack.Payload) < 2 || ack.Payload[0] != f.Class || ack.Payload[1] != f.ID {
				continue
			}

			if ack.ID == UBX_ACK_ACK {
				return nil
			}

			return fmt.Errorf("%w: %s", ErrNak, f)
		case <-timer.C:
			return fmt.Errorf("%w: %s", ErrAckTimeout, f)
		case <-d.done:
			return d.closedErr()
		}
	}
}

// Poll requests class/id and waits for the reply.
func (d *ubxDevice) Poll(class, id byte) (UBXFrame, error) {
	var key = uint16(class)<<8 | uint16(id)

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	d.awaiting = key
	d.polling = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.polling = false
		d.mu.Unlock()
	}()

	for len(d.replies) > 0 {
		<-d.replies
	}

	var writeErr = d.Write(EncodeUBX(class, id, nil))
	if writeErr != nil {
		return UBXFrame{}, writeErr
	}

	var timer = time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case reply := <-d.replies:
		return reply, nil
	case <-timer.C:
		return UBXFrame{}, fmt.Errorf("%w: poll %02X-%02X", ErrAckTimeout, class, id)
	case <-d.done:
		return UBXFrame{}, d.closedErr()
	}
}

func (d *ubxDevice) Close() error {
	return d.port.Close()
}

// configStep is one CFG-VALSET of a configuration sequence.
type configStep []ConfigValue

// runConfigSequence applies steps in order and stops at the first failure.
// It returns the 1-based failing step, or 0.
func (d *ubxDevice) runConfigSequence(layer byte, steps []configStep) (int, error) {
	for i, step := range steps {
		var err = d.SendCommand(EncodeValSet(layer, step...))
		if err != nil {
			return i + 1, err
		}
	}

	return 0, nil
}

// probeVersion polls MON-VER and logs what was found.
func (d *ubxDevice) probeVersion() (MonVer, error) {
	var reply, err = d.Poll(UBX_CLASS_MON, UBX_MON_VER)
	if err != nil {
		return MonVer{}, err
	}

	var ver, verErr = DecodeMonVer(reply.Payload)
	if verErr != nil {
		return MonVer{}, verErr
	}

	d.log.Info("version", "hw", ver.Hardware, "sw", ver.Software, "ext", ver.Extensions)

	return ver, nil
}
