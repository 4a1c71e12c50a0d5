package scpi

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

const dialTimeout = 5 * time.Second

// Dial connects to an instrument exposed on a TCP socket, e.g. behind a
// LAN-to-USB bridge, at host:port.
func Dial(addr string) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", addr)
	}
	return NewConn(conn), nil
}
