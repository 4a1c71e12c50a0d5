package scpi

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const defaultBaud = 115200

// OpenSerial opens a serial port and wraps it in a Conn. The PM100USB
// enumerates as a CDC serial device, 8N1.
func OpenSerial(name string, baud int) (*Conn, error) {
	if baud == 0 {
		baud = defaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 3 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	return NewConn(port), nil
}
