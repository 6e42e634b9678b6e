package tinybms

import (
	"fmt"

	"github.com/tarm/serial"
)

// OpenPort opens the TinyBMS UART at the fixed link parameters
// 115200 8N1, no flow control. Grounded on the
// same github.com/tarm/serial.OpenPort call the pack's other serial
// device driver uses at the identical baud rate.
func OpenPort(device string) (*serial.Port, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 0,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("tinybms: open %s: %w", device, err)
	}
	return port, nil
}
