//go:build unix

package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

type rawSocket struct {
	c *net.TCPConn
	// raw gives direct access to the descriptor for reads that must never park.
	raw syscall.RawConn
}

func newRawSocket(c *net.TCPConn) (*rawSocket, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}

	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetNonblock(int(fd), true)
	}); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if serr != nil {
		return nil, fmt.Errorf("set nonblocking: %w", serr)
	}

	return &rawSocket{c: c, raw: raw}, nil
}

// tryRead performs one read(2). It returns errWouldBlock instead of waiting for data.
func (s *rawSocket) tryRead(p []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	err := s.raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}

	switch {
	case rerr == nil && n == 0:
		return 0, io.EOF
	case rerr == nil:
		return n, nil
	case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK), errors.Is(rerr, unix.EINTR):
		return 0, errWouldBlock
	default:
		return 0, rerr
	}
}
