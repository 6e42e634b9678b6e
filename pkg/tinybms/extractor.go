package tinybms

import (
	"errors"
	"fmt"

	gateway "github.com/victronbms/gateway"
)

// Typed errors returned by Extract, matching the documented response
// taxonomy.
var (
	ErrNotEnoughData     = errors.New("tinybms: not enough data for a complete frame")
	ErrBadPreamble       = errors.New("tinybms: preamble not found")
	ErrUnexpectedCommand = errors.New("tinybms: response command does not match request")
)

// nackCommand marks a response payload as a rejection rather than
// data; payload[0] then carries the device's nack code.
const nackCommand byte = 0xFF

// Response is a decoded, CRC-verified frame from the device.
//
// Wire layout: [0xAA][len][payload...][crc_lo][crc_hi], where len is
// the announced length of payload (which begins with the echoed
// command byte). The 5-byte ACK form is the degenerate case
// len == 1, payload == [cmd].
type Response struct {
	Command byte
	Payload []byte // excludes the echoed command byte
	IsAck   bool
}

// Extract scans buf for a preamble, validates the announced length
// and CRC, and returns the decoded response plus the number of bytes
// consumed from buf. On ErrNotEnoughData, consumed is 0 and the
// caller should append more bytes and retry. On any other error,
// consumed advances past the bad preamble byte so the caller can
// resynchronize. A device rejection decodes to a *gateway.NackError,
// never retried by the caller.
func Extract(buf []byte) (resp Response, consumed int, err error) {
	i := 0
	for i < len(buf) && buf[i] != preamble {
		i++
	}
	if i == len(buf) {
		return Response{}, len(buf), ErrBadPreamble
	}
	// Need at least preamble + len + crc(2) = 4 bytes to know anything.
	if len(buf)-i < 4 {
		return Response{}, 0, ErrNotEnoughData
	}
	announced := int(buf[i+1])
	total := 2 + announced + 2
	if len(buf)-i < total {
		return Response{}, 0, ErrNotEnoughData
	}

	frameBytes := buf[i : i+total]
	payloadAndLen := frameBytes[:2+announced]
	gotCRC := uint16(frameBytes[2+announced]) | uint16(frameBytes[2+announced+1])<<8
	wantCRC := Checksum(payloadAndLen)
	if gotCRC != wantCRC {
		return Response{}, i + 1, gateway.ErrBadCRC
	}
	if announced < 1 {
		return Response{}, i + 1, fmt.Errorf("%w: zero-length payload", gateway.ErrBadFrame)
	}

	payload := payloadAndLen[2:]
	cmd := payload[0]
	if cmd == nackCommand && len(payload) >= 2 {
		return Response{}, i + total, &gateway.NackError{Code: payload[1]}
	}
	return Response{
		Command: cmd,
		Payload: payload[1:],
		IsAck:   announced == 1,
	}, i + total, nil
}

// ExpectCommand validates that resp.Command matches the command that
// was sent; writers expecting an ACK must not confuse it with a data
// response carrying the same command byte but IsAck == false.
func ExpectCommand(resp Response, want byte) error {
	if resp.Command != want {
		return fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrUnexpectedCommand, resp.Command, want)
	}
	return nil
}
