package client

import (
	"context"
	"errors"
	"net"
	"testing"

	"trustkv/pkg/dberrors"
	"trustkv/pkg/types"
	"trustkv/pkg/wire"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestDo_RejectsMalformedBatches(t *testing.T) {
	ln := listen(t)
	c, err := Dial(context.Background(), ln.Addr().String(), wire.BinaryCodec{OpsPerReq: 2})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Abort()

	cases := map[string][]wire.Operation{
		"empty":          nil,
		"close not last": {wire.Close(), wire.Read(types.Int(1))},
		"short binary":   {wire.Read(types.Int(1))},
	}
	for name, ops := range cases {
		if _, err := c.Do(ops); !errors.Is(err, dberrors.ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestDo_BinaryRoundTrip(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 2*wire.RecordSize)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		// reply in two writes to exercise reply reassembly
		conn.Write([]byte{wire.StatusSuccess})
		conn.Write([]byte{wire.StatusFailure})
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), wire.BinaryCodec{OpsPerReq: 2})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Abort()

	res, err := c.Do([]wire.Operation{wire.Insert(types.Int(1), types.Int(1)), wire.Read(types.Int(2))})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(res) != 2 || !res[0].OK || res[1].OK {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestSendHandshake_Validates(t *testing.T) {
	err := SendHandshake(context.Background(), "127.0.0.1:1", wire.Handshake{})
	var derr *wire.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
