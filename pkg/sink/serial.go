package sink

import (
	"fmt"

	"go.bug.st/serial"
)

// Serial writes raw torque payloads to a UART.
type Serial struct {
	*Writer
	port serial.Port
}

// OpenSerial opens the named port at baudRate for torque output.
func OpenSerial(name string, baudRate int) (*Serial, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &Serial{Writer: NewWriter(port), port: port}, nil
}

// Close closes the port.
func (s *Serial) Close() error {
	return s.port.Close()
}
