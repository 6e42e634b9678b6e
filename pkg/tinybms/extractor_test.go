package tinybms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	gateway "github.com/victronbms/gateway"
)

func buildDataResponse(cmd byte, payload []byte) []byte {
	body := append([]byte{cmd}, payload...)
	buf := []byte{preamble, byte(len(body))}
	buf = append(buf, body...)
	crc := Checksum(buf)
	buf = append(buf, byte(crc), byte(crc>>8))
	return buf
}

func TestExtractDataResponse(t *testing.T) {
	wire := buildDataResponse(CmdReadRegisters, []byte{0x34, 0x12})
	resp, consumed, err := Extract(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, CmdReadRegisters, resp.Command)
	require.Equal(t, []byte{0x34, 0x12}, resp.Payload)
	require.False(t, resp.IsAck)
}

func TestExtractAck(t *testing.T) {
	wire := buildDataResponse(CmdWriteRegister, nil)
	resp, _, err := Extract(wire)
	require.NoError(t, err)
	require.True(t, resp.IsAck)
	require.Empty(t, resp.Payload)
}

func TestExtractNack(t *testing.T) {
	wire := buildDataResponse(nackCommand, []byte{0x03})
	_, consumed, err := Extract(wire)
	require.Equal(t, len(wire), consumed)
	var nack *gateway.NackError
	require.True(t, errors.As(err, &nack))
	require.Equal(t, byte(0x03), nack.Code)
	require.True(t, errors.Is(err, gateway.ErrBadFrame))
}

func TestExtractNotEnoughData(t *testing.T) {
	wire := buildDataResponse(CmdReadRegisters, []byte{0x34, 0x12})
	_, consumed, err := Extract(wire[:len(wire)-1])
	require.ErrorIs(t, err, ErrNotEnoughData)
	require.Equal(t, 0, consumed)
}

func TestExtractBadPreamble(t *testing.T) {
	_, consumed, err := Extract([]byte{0x00, 0x01, 0x02})
	require.ErrorIs(t, err, ErrBadPreamble)
	require.Equal(t, 3, consumed)
}

func TestExtractBadCRC(t *testing.T) {
	wire := buildDataResponse(CmdReadRegisters, []byte{0x34, 0x12})
	wire[len(wire)-1] ^= 0xFF
	_, consumed, err := Extract(wire)
	require.ErrorIs(t, err, gateway.ErrBadCRC)
	require.Equal(t, 1, consumed)
}

func TestExtractResynchronizesPastGarbagePrefix(t *testing.T) {
	good := buildDataResponse(CmdReadRegisters, []byte{0x01, 0x00})
	wire := append([]byte{0x01, 0x02, 0x03}, good...)
	// Extract finds the preamble mid-buffer and decodes straight
	// through it; no separate resync call is needed when the garbage
	// precedes a complete, findable frame.
	resp, consumed, err := Extract(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, CmdReadRegisters, resp.Command)
}

func TestExpectCommandMismatch(t *testing.T) {
	resp := Response{Command: CmdReadSOC}
	err := ExpectCommand(resp, CmdReadPackVoltage)
	require.ErrorIs(t, err, ErrUnexpectedCommand)
}
