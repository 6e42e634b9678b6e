// Package can defines the CAN transport abstraction the Victron
// publisher drives. Concrete transports (pkg/can/socketcan,
// pkg/can/virtual) implement Bus; the publisher never talks to
// SocketCAN or brutella/can directly.
package can

// Frame is a standard 11-bit-identifier CAN frame, DLC <= 8.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// FrameListener receives every frame read off the bus. Handle must
// not block — it runs on the transport's receive goroutine.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the CAN controller abstraction: connect, transmit, and
// subscribe for reception. Implementations own the underlying socket
// or hardware controller.
type Bus interface {
	Connect() error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener)
}
