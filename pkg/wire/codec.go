package wire

import (
	"fmt"

	"trustkv/pkg/dberrors"
)

const (
	ProtocolJSON   = "json"
	ProtocolBinary = "binary"
)

// Codec encodes and decodes steady-state batches. Decode methods return
// ErrIncomplete when buf does not yet hold a whole message, and the number of
// bytes consumed otherwise.
type Codec interface {
	Name() string
	DecodeBatch(buf []byte) ([]Operation, int, error)
	EncodeReply(dst []byte, results []Result) ([]byte, error)
	EncodeBatch(dst []byte, ops []Operation) ([]byte, error)
	DecodeReply(buf []byte, n int) ([]Result, int, error)
}

// NewCodec returns the codec for protocol.
func NewCodec(protocol string, opsPerReq int) (Codec, error) {
	switch protocol {
	case "", ProtocolJSON:
		return JSONCodec{}, nil
	case ProtocolBinary:
		if opsPerReq <= 0 {
			return nil, fmt.Errorf("%w: ops per request %d", dberrors.ErrInvalidArgument, opsPerReq)
		}
		return BinaryCodec{OpsPerReq: opsPerReq}, nil
	default:
		return nil, fmt.Errorf("%w: protocol %q", dberrors.ErrInvalidArgument, protocol)
	}
}
