package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	u-blox UBX binary protocol framing.
 *
 * Description:	A UBX frame is
 *
 *			0xB5 0x62 class id lengthLSB lengthMSB payload ckA ckB
 *
 *		The 8 bit Fletcher checksum covers class through payload.
 *		Receivers also emit NMEA on the same port so the scanner
 *		skips anything that is not a valid frame.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	UBX_SYNC1 = 0xB5
	UBX_SYNC2 = 0x62

	ubxHeaderLen   = 6
	ubxOverheadLen = 8
)

// Message classes and ids used here.
const (
	UBX_CLASS_RXM = 0x02
	UBX_CLASS_ACK = 0x05
	UBX_CLASS_CFG = 0x06
	UBX_CLASS_MON = 0x0A

	UBX_RXM_PMP     = 0x72
	UBX_ACK_NAK     = 0x00
	UBX_ACK_ACK     = 0x01
	UBX_CFG_RST     = 0x04
	UBX_CFG_VALSET  = 0x8A
	UBX_MON_VER     = 0x04
	UBX_MON_VER_LEN = 40
)

var ErrBadChecksum = errors.New("ubx checksum mismatch")

// UBXFrame is one decoded frame.  Payload aliases the buffer it was
// parsed from.
type UBXFrame struct {
	Class   byte
	ID      byte
	Payload []byte
}

func (f UBXFrame) key() uint16 {
	return uint16(f.Class)<<8 | uint16(f.ID)
}

func (f UBXFrame) String() string {
	return fmt.Sprintf("UBX %02X-%02X len %d", f.Class, f.ID, len(f.Payload))
}

// UBXChecksum computes the Fletcher checksum over data.
func UBXChecksum(data []byte) (byte, byte) {
	var ckA, ckB byte
	for _, b := range data {
		ckA += b
		ckB += ckA
	}

	return ckA, ckB
}

// EncodeUBX builds a complete frame.
func EncodeUBX(class, id byte, payload []byte) []byte {
	var buf = make([]byte, 0, ubxOverheadLen+len(payload))
	buf = append(buf, UBX_SYNC1, UBX_SYNC2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)

	var ckA, ckB = UBXChecksum(buf[2:])

	return append(buf, ckA, ckB)
}

// DecodeUBX parses a single complete frame.
func DecodeUBX(frame []byte) (UBXFrame, error) {
	if len(frame) < ubxOverheadLen || frame[0] != UBX_SYNC1 || frame[1] != UBX_SYNC2 {
		return UBXFrame{}, fmt.Errorf("not a ubx frame (%d bytes)", len(frame))
	}

	var length = int(binary.LittleEndian.Uint16(frame[4:6]))
	if len(frame) != length+ubxOverheadLen {
		return UBXFrame{}, fmt.Errorf("ubx frame length %d, header says %d", len(frame), length+ubxOverheadLen)
	}

	var ckA, ckB = UBXChecksum(frame[2 : ubxHeaderLen+length])
	if frame[len(frame)-2] != ckA || frame[len(frame)-1] != ckB {
		return UBXFrame{}, ErrBadChecksum
	}

	return UBXFrame{
		Class:   frame[2],
		ID:      frame[3],
		Payload: frame[ubxHeaderLen : ubxHeaderLen+length],
	}, nil
}

// UBX_MAX_SCAN_PAYLOAD bounds the payload length ScanUBX will wait for.
// The longest receiver messages, NAV-SAT or RXM-RAWX with every channel
// in use, stay well below it.
const UBX_MAX_SCAN_PAYLOAD = 8192

// ScanUBX is a bufio.SplitFunc returning whole, checksum-valid UBX frames.
// Bytes that cannot start a frame are discarded.  A sync pattern with an
// implausible length is treated as noise.
func ScanUBX(data []byte, atEOF bool) (int, []byte, error) {
	var skipped = 0

	for {
		var start = bytes.IndexByte(data[skipped:], UBX_SYNC1)
		if start < 0 {
			// Nothing useful in here.
			return len(data), nil, nil
		}

		start += skipped

		if len(data)-start < ubxHeaderLen {
			if atEOF {
				return len(data), nil, nil
			}

			return start, nil, nil
		}

		if data[start+1] != UBX_SYNC2 {
			skipped = start + 1
			continue
		}

		var length = int(binary.LittleEndian.Uint16(data[start+4 : start+6]))
		if length > UBX_MAX_SCAN_PAYLOAD {
			// No receiver output is that long, so not a real header.
			skipped = start + 1
			continue
		}

		var end = start + length + ubxOverheadLen

		if end > len(data) {
			if atEOF {
				// Never completed.  Whole frames may still follow.
				skipped = start + 1
				continue
			}

			return start, nil, nil
		}

		var ckA, ckB = UBXChecksum(data[start+2 : end-2])
		if data[end-2] != ckA || data[end-1] != ckB {
			// False sync inside other data.  Try the next candidate.
			skipped = start + 1
			continue
		}

		return end, data[start:end], nil
	}
}

// Configuration layers for CFG-VALSET.
const (
	VAL_LAYER_RAM   = 0x01
	VAL_LAYER_BBR   = 0x02
	VAL_LAYER_FLASH = 0x04
)

// Configuration keys.  Bits 28-30 of the key give the value size.
const (
	CFG_SPARTN_USE_SOURCE = 0x20a70001

	CFG_PMP_CENTER_FREQUENCY  = 0x40b10011
	CFG_PMP_SEARCH_WINDOW     = 0x30b10012
	CFG_PMP_USE_SERVICE_ID    = 0x10b10016
	CFG_PMP_SERVICE_ID        = 0x30b10017
	CFG_PMP_DATA_RATE         = 0x30b10013
	CFG_PMP_USE_DESCRAMBLER   = 0x10b10014
	CFG_PMP_DESCRAMBLER_INIT  = 0x30b10015
	CFG_PMP_USE_PRESCRAMBLING = 0x10b10019
	CFG_PMP_UNIQUE_WORD       = 0x50b1001a

	CFG_MSGOUT_UBX_RXM_PMP_I2C   = 0x2091031d
	CFG_MSGOUT_UBX_RXM_PMP_UART1 = 0x2091031e
	CFG_MSGOUT_UBX_RXM_PMP_UART2 = 0x2091031f
	CFG_MSGOUT_UBX_RXM_PMP_USB   = 0x20910320

	CFG_UART1_BAUDRATE = 0x40520001
	CFG_UART2_BAUDRATE = 0x40530001

	CFG_UART1INPROT_UBX    = 0x10730001
	CFG_UART1INPROT_NMEA   = 0x10730002
	CFG_UART1INPROT_SPARTN = 0x10730005
)

// ConfigValue is a single key/value pair for CFG-VALSET.
type ConfigValue struct {
	Key   uint32
	Value uint64
}

// valueSize returns the number of bytes the value of key occupies.
func valueSize(key uint32) int {
	switch (key >> 28) & 0x7 {
	case 1, 2:
		return 1
	case 3:
		return 2
	case 4:
		return 4
	case 5:
		return 8
	}

	return 0
}

// EncodeValSet builds a UBX-CFG-VALSET frame (version 0) for layer.
func EncodeValSet(layer byte, values ...ConfigValue) []byte {
	var payload = []byte{0x00, layer, 0x00, 0x00}

	for _, v := range values {
		payload = binary.LittleEndian.AppendUint32(payload, v.Key)

		switch valueSize(v.Key) {
		case 1:
			payload = append(payload, byte(v.Value))
		case 2:
			payload = binary.LittleEndian.AppendUint16(payload, uint16(v.Value))
		case 4:
			payload = binary.LittleEndian.AppendUint32(payload, uint32(v.Value))
		case 8:
			payload = binary.LittleEndian.AppendUint64(payload, v.Value)
		}
	}

	return EncodeUBX(UBX_CLASS_CFG, UBX_CFG_VALSET, payload)
}

// MonVer is the decoded content of UBX-MON-VER.
type MonVer struct {
	Software   string
	Hardware   string
	Extensions []string
}

func DecodeMonVer(payload []byte) (MonVer, error) {
	if len(payload) < UBX_MON_VER_LEN {
		return MonVer{}, fmt.Errorf("MON-VER payload too short (%d bytes)", len(payload))
	}

	var v = MonVer{
		Software: ByteArrayToString(payload[0:30]),
		Hardware: ByteArrayToString(payload[30:40]),
	}

	for off := UBX_MON_VER_LEN; off+30 <= len(payload); off += 30 {
		var ext = ByteArrayToString(payload[off : off+30])
		if ext != "" {
			v.Extensions = append(v.Extensions, ext)
		}
	}

	return v, nil
}

// ByteArrayToString drops the trailing NULs of a fixed width string field.
func ByteArrayToString(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
