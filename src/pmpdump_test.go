package hpgmux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPMPDump(t *testing.T) {
	var payload = make([]byte, 100)
	payload[pmpEbN0Offset] = 40

	var in bytes.Buffer
	in.WriteString("$GNRMC,,V,,,,,,,,,,N*4D\r\n")
	in.Write(EncodeUBX(UBX_CLASS_MON, UBX_MON_VER, nil))
	in.Write(pmpFrame(payload))
	in.Write(pmpFrame(payload[:20]))

	var out bytes.Buffer
	require.NoError(t, PMPDump(&in, &out, false))

	assert.Contains(t, out.String(), "RXM-PMP  108 bytes  Eb/N0 5.0 dB")
	assert.Contains(t, out.String(), "RXM-PMP  28 bytes  Eb/N0 0.0 dB")
	assert.NotContains(t, out.String(), "UBX 0A-04")
	assert.Contains(t, out.String(), "3 frames, 2 RXM-PMP, 136 correction bytes")
}

func TestPMPDump_All(t *testing.T) {
	var in = bytes.NewReader(EncodeUBX(UBX_CLASS_MON, UBX_MON_VER, nil))

	var out bytes.Buffer
	require.NoError(t, PMPDump(in, &out, true))

	assert.Contains(t, out.String(), "UBX 0A-04 len 0  8 bytes")
	assert.Contains(t, out.String(), "1 frames, 0 RXM-PMP, 0 correction bytes")
}
