// Package scpi implements a minimal request/response channel for
// instruments speaking newline-terminated ASCII SCPI over a serial port or
// TCP socket.
package scpi

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Transport is the request/response channel a driver talks through.
type Transport interface {
	// Write sends a single command to the instrument.
	Write(cmd string) error

	// Read reads one reply line from the instrument, with terminators and
	// surrounding whitespace stripped.
	Read() (string, error)

	// Ask sends a query and reads the reply.
	Ask(cmd string) (string, error)

	Close() error
}

// Conn is a Transport over any stream connection.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
}

// NewConn wraps an established stream connection.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
	}
}

func (c *Conn) Write(cmd string) error {
	_, err := io.WriteString(c.rwc, cmd+"\n")
	return errors.Wrapf(err, "write %q", cmd)
}

func (c *Conn) Read() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "read reply")
	}
	return strings.TrimSpace(line), nil
}

func (c *Conn) Ask(cmd string) (string, error) {
	if err := c.Write(cmd); err != nil {
		return "", err
	}
	return c.Read()
}

func (c *Conn) Close() error {
	return c.rwc.Close()
}

// AskFloat sends a query and parses the reply as a float64.
func AskFloat(t Transport, cmd string) (float64, error) {
	resp, err := t.Ask(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	return v, errors.Wrapf(err, "parse reply to %q", cmd)
}

// AskInt sends a query and parses the reply as an int. Instruments commonly
// report integers in exponent notation, so the reply is parsed as a float
// first.
func AskInt(t Transport, cmd string) (int, error) {
	v, err := AskFloat(t, cmd)
	return int(v), err
}

// AskBool sends a query and interprets the reply as a 0/1 flag.
func AskBool(t Transport, cmd string) (bool, error) {
	v, err := AskInt(t, cmd)
	return v != 0, err
}

// Values splits a comma-separated reply into trimmed fields.
func Values(resp string) []string {
	fields := strings.Split(resp, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}
