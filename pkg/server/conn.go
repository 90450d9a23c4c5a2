package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"

	"trustkv/pkg/fiber"
	"trustkv/pkg/wire"
)

var errWouldBlock = errors.New("server: read would block")

const readChunk = 10 * 1024

// conn is one accepted socket owned by exactly one fiber.
type conn struct {
	sock *rawSocket
	in   []byte
	buf  []byte
	out  []byte
}

func newConn(c *net.TCPConn) (*conn, error) {
	if err := c.SetNoDelay(true); err != nil {
		return nil, fmt.Errorf("set nodelay: %w", err)
	}
	sock, err := newRawSocket(c)
	if err != nil {
		return nil, err
	}
	return &conn{
		sock: sock,
		buf:  make([]byte, readChunk),
	}, nil
}

func (c *conn) remote() string {
	return c.sock.c.RemoteAddr().String()
}

// readBatch returns the next complete batch. Every read that finds no data
// yields the fiber and retries. io.EOF is returned for a clean end of stream.
func (c *conn) readBatch(f *fiber.Fiber, codec wire.Codec) ([]wire.Operation, error) {
	for {
		if len(c.in) > 0 {
			ops, n, err := codec.DecodeBatch(c.in)
			if err == nil {
				c.in = append(c.in[:0], c.in[n:]...)
				return ops, nil
			}
			if !errors.Is(err, wire.ErrIncomplete) {
				return nil, err
			}
		}

		n, err := c.sock.tryRead(c.buf)
		switch {
		case errors.Is(err, errWouldBlock):
			f.Yield()
			continue
		case errors.Is(err, io.EOF):
			if c.hasPartial(codec) {
				return nil, &wire.DecodeError{Message: fmt.Sprintf("stream ended inside a batch (%d bytes pending)", len(c.in))}
			}
			return nil, io.EOF
		case err != nil:
			return nil, err
		}
		c.in = append(c.in, c.buf[:n]...)
	}
}

func (c *conn) hasPartial(codec wire.Codec) bool {
	if codec.Name() == wire.ProtocolJSON {
		return len(bytes.TrimSpace(c.in)) > 0
	}
	return len(c.in) > 0
}

func (c *conn) writeReply(codec wire.Codec, results []wire.Result) error {
	out, err := codec.EncodeReply(c.out[:0], results)
	if err != nil {
		return err
	}
	c.out = out
	_, err = c.sock.c.Write(out)
	return err
}

func (c *conn) close() error {
	return c.sock.c.Close()
}
