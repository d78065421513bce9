package link

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when no baud rate is given. USB CDC ports ignore it.
const DefaultBaudRate = 2000000

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// OpenPort opens a serial port in raw 8N1 mode.
func OpenPort(name string, baudRate int) (serial.Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// Serial is a client connected to a device on a serial port.
type Serial struct {
	*Client
	name string
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Dial opens a serial port and starts a client on it.
func Dial(name string, baudRate int, opts ...Option) (*Serial, error) {
	port, err := OpenPort(name, baudRate)
	if err != nil {
		return nil, err
	}
	return &Serial{Client: NewClient(port, opts...), name: name}, nil
}

// Name returns the name of the port.
func (s *Serial) Name() string { return s.name }
