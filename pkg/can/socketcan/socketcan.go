// Package socketcan wraps github.com/brutella/can to back the
// can.Bus interface over a real Linux SocketCAN interface at 500
// kbit/s, the transport rate required for the Victron side of
// the gateway.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/victronbms/gateway/pkg/can"
)

// Bus adapts a brutella/can.Bus to the can.Bus interface.
type Bus struct {
	inner      *sockcan.Bus
	rxListener can.FrameListener
}

// New opens (but does not yet connect) a SocketCAN bus on the named
// interface, e.g. "can0".
func New(iface string) (*Bus, error) {
	inner, err := sockcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	return &Bus{inner: inner}, nil
}

// Connect starts the brutella/can receive loop in the background.
func (b *Bus) Connect() error {
	go b.inner.ConnectAndPublish()
	return nil
}

// Disconnect stops the receive loop and closes the socket.
func (b *Bus) Disconnect() error {
	return b.inner.Disconnect()
}

// Send transmits frame on the bus.
func (b *Bus) Send(frame can.Frame) error {
	return b.inner.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

// Subscribe registers listener for every frame brutella/can delivers.
func (b *Bus) Subscribe(listener can.FrameListener) {
	b.rxListener = listener
	b.inner.Subscribe(b)
}

// Handle implements brutella/can's Handler interface, translating its
// frame type into ours before forwarding to the registered listener.
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.rxListener == nil {
		return
	}
	b.rxListener.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data})
}
