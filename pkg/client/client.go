// Package client speaks the benchmark protocol: a one-shot handshake
// connection followed by batched request connections.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"trustkv/pkg/dberrors"
	"trustkv/pkg/wire"
)

const defaultDialTimeout = 3 * time.Second

type Option func(*options)

type options struct {
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithIOTimeout bounds every Do round trip; zero disables deadlines.
func WithIOTimeout(d time.Duration) Option {
	return func(o *options) { o.ioTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func dial(ctx context.Context, addr string, o options) (net.Conn, error) {
	d := net.Dialer{Timeout: o.dialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return c, nil
}

// SendHandshake opens the control connection, sends hs and closes it.
func SendHandshake(ctx context.Context, addr string, hs wire.Handshake, opts ...Option) error {
	if err := hs.Validate(); err != nil {
		return err
	}
	c, err := dial(ctx, addr, buildOptions(opts))
	if err != nil {
		return err
	}
	defer c.Close()

	if err := wire.WriteHandshake(c, hs); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	return nil
}

// Conn is one request connection. It is not safe for concurrent use.
type Conn struct {
	c     net.Conn
	codec wire.Codec
	o     options

	in  []byte
	buf []byte
	out []byte
}

// Dial opens a request connection using codec for batches.
func Dial(ctx context.Context, addr string, codec wire.Codec, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	c, err := dial(ctx, addr, o)
	if err != nil {
		return nil, err
	}
	return &Conn{
		c:     c,
		codec: codec,
		o:     o,
		buf:   make([]byte, 4096),
	}, nil
}

// Do sends one batch and waits for its reply. A batch ending with Close gets
// no reply; Do then returns nil results and the connection must be closed.
// For the binary codec the batch must hold exactly OpsPerReq operations
// unless it ends with Close.
func (c *Conn) Do(ops []wire.Operation) ([]wire.Result, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: empty batch", dberrors.ErrInvalidArgument)
	}
	expect := len(ops)
	for i, op := range ops {
		if op.Kind == wire.OpClose {
			if i != len(ops)-1 {
				return nil, fmt.Errorf("%w: close must be the last operation", dberrors.ErrInvalidArgument)
			}
			expect = -1
		}
	}
	if bc, ok := c.codec.(wire.BinaryCodec); ok && expect >= 0 && len(ops) != bc.OpsPerReq {
		return nil, fmt.Errorf("%w: binary batch of %d operations, want %d", dberrors.ErrInvalidArgument, len(ops), bc.OpsPerReq)
	}

	out, err := c.codec.EncodeBatch(c.out[:0], ops)
	if err != nil {
		return nil, err
	}
	c.out = out

	if c.o.ioTimeout > 0 {
		if err := c.c.SetDeadline(time.Now().Add(c.o.ioTimeout)); err != nil {
			return nil, err
		}
	}
	if _, err := c.c.Write(out); err != nil {
		return nil, fmt.Errorf("write batch: %w", err)
	}
	if expect < 0 {
		return nil, nil
	}
	return c.readReply(expect)
}

func (c *Conn) readReply(n int) ([]wire.Result, error) {
	for {
		if len(c.in) > 0 {
			results, used, err := c.codec.DecodeReply(c.in, n)
			if err == nil {
				c.in = append(c.in[:0], c.in[used:]...)
				return results, nil
			}
			if !errors.Is(err, wire.ErrIncomplete) {
				return nil, err
			}
		}

		m, err := c.c.Read(c.buf)
		c.in = append(c.in, c.buf[:m]...)
		if err != nil {
			if errors.Is(err, io.EOF) && m > 0 {
				continue
			}
			return nil, fmt.Errorf("read reply: %w", err)
		}
	}
}

// Close sends a Close operation and closes the socket.
func (c *Conn) Close() error {
	var err error
	if _, derr := c.Do([]wire.Operation{wire.Close()}); derr != nil {
		err = derr
	}
	if cerr := c.c.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Abort closes the socket without telling the server.
func (c *Conn) Abort() error {
	return c.c.Close()
}
