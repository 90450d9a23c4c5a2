//go:build !unix

package server

import (
	"errors"
	"net"
	"os"
	"time"
)

// pollWindow bounds how long a read may wait before it counts as would-block.
const pollWindow = 50 * time.Microsecond

type rawSocket struct {
	c *net.TCPConn
}

func newRawSocket(c *net.TCPConn) (*rawSocket, error) {
	return &rawSocket{c: c}, nil
}

func (s *rawSocket) tryRead(p []byte) (int, error) {
	if err := s.c.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, err
	}
	n, err := s.c.Read(p)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, errWouldBlock
	}
	return n, err
}
