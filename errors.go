// Package gateway holds the cross-cutting types shared by every
// subsystem of the TinyBMS-to-Victron CAN gateway: the error
// taxonomy consumed across package boundaries.
package gateway

import (
	"errors"
	"fmt"
)

// Error taxonomy for the gateway; pkg/tinybms and pkg/eventbus return
// these sentinels. Callers use errors.Is against these sentinels;
// Nack and write-verification mismatches carry extra context via
// errors.As on their concrete types below.
var (
	ErrTimeout         = errors.New("operation timed out")
	ErrBadCRC          = errors.New("crc mismatch")
	ErrBadFrame        = errors.New("malformed frame")
	ErrUnavailable     = errors.New("circuit breaker open")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrQueueFull       = errors.New("queue full")
	ErrClosed          = errors.New("subscription closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrResourceBusy    = errors.New("resource busy")
	ErrPersistence     = errors.New("persistence failure")
)

// NackError wraps the response code returned by the TinyBMS when a
// request is rejected outright. It is never retried.
type NackError struct {
	Code byte
}

func (e *NackError) Error() string {
	return fmt.Sprintf("tinybms: nack, code 0x%02x", e.Code)
}

func (e *NackError) Is(target error) bool {
	return target == ErrBadFrame
}

// WriteVerifyError is returned when a write's follow-up readback does
// not match the value the caller requested.
type WriteVerifyError struct {
	Address  uint16
	Wanted   uint32
	Readback uint32
}

func (e *WriteVerifyError) Error() string {
	return fmt.Sprintf("tinybms: write to register 0x%04x not verified, wanted %d got %d",
		e.Address, e.Wanted, e.Readback)
}
