// Package virtual implements an in-memory can.Bus for tests: Send
// loops frames straight back to subscribed listeners instead of
// touching real hardware, trading a wire transport for in-process
// delivery during tests.
package virtual

import (
	"sync"

	"github.com/victronbms/gateway/pkg/can"
)

// Bus is a loopback CAN bus: every Send is recorded and, if
// LoopbackEnabled, redelivered to subscribers.
type Bus struct {
	mu              sync.Mutex
	listener        can.FrameListener
	Sent            []can.Frame
	LoopbackEnabled bool
	connected       bool
}

// New returns a disconnected virtual bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	b.Sent = append(b.Sent, frame)
	loop := b.LoopbackEnabled
	listener := b.listener
	b.mu.Unlock()
	if loop && listener != nil {
		listener.Handle(frame)
	}
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
}

// Deliver injects frame as if it had been received from the wire —
// used by tests to simulate the GX handshake reply (0x307).
func (b *Bus) Deliver(frame can.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}

// LastSent returns the most recently transmitted frame and whether
// anything has been sent yet.
func (b *Bus) LastSent() (can.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Sent) == 0 {
		return can.Frame{}, false
	}
	return b.Sent[len(b.Sent)-1], true
}
