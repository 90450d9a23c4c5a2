package wire

import (
	"encoding/binary"
	"fmt"

	"trustkv/pkg/types"
)

const (
	// RecordSize is the size of one binary request record: opcode + big-endian u64 key.
	RecordSize = 9

	StatusSuccess byte = 0
	StatusFailure byte = 1
)

// BinaryCodec is the fixed-width encoding. A request is OpsPerReq records; the
// reply is one status byte per operation. A Close record ends the batch early.
type BinaryCodec struct {
	OpsPerReq int
}

func (BinaryCodec) Name() string { return "binary" }

func (c BinaryCodec) DecodeBatch(buf []byte) ([]Operation, int, error) {
	ops := make([]Operation, 0, c.OpsPerReq)
	for i := 0; i < c.OpsPerReq; i++ {
		off := i * RecordSize
		if len(buf) < off+RecordSize {
			return nil, 0, ErrIncomplete
		}

		op, err := decodeRecord(buf[off : off+RecordSize])
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
		if op.Kind == OpClose {
			return ops, off + RecordSize, nil
		}
	}
	return ops, c.OpsPerReq * RecordSize, nil
}

func decodeRecord(rec []byte) (Operation, error) {
	key := types.Int(binary.BigEndian.Uint64(rec[1:RecordSize]))
	switch OpKind(rec[0]) {
	case OpClose:
		return Close(), nil
	case OpRead:
		return Read(key), nil
	case OpInsert:
		// the record carries no value; the key doubles as the value
		return Insert(key, key), nil
	case OpRemove:
		return Remove(key), nil
	case OpIncrement:
		return Increment(key), nil
	default:
		return Operation{}, &DecodeError{Message: fmt.Sprintf("unknown opcode %d", rec[0])}
	}
}

func (BinaryCodec) EncodeReply(dst []byte, results []Result) ([]byte, error) {
	for _, r := range results {
		if r.OK {
			dst = append(dst, StatusSuccess)
		} else {
			dst = append(dst, StatusFailure)
		}
	}
	return dst, nil
}

func (BinaryCodec) EncodeBatch(dst []byte, ops []Operation) ([]byte, error) {
	var rec [RecordSize]byte
	for _, op := range ops {
		if op.Kind > OpIncrement {
			return dst, &EncodeError{Message: "unknown operation " + op.Kind.String()}
		}
		if op.Kind != OpClose && op.Key.Kind != types.KindInt {
			return dst, &EncodeError{Message: "binary protocol carries integer keys only"}
		}
		rec[0] = byte(op.Kind)
		binary.BigEndian.PutUint64(rec[1:], op.Key.Int)
		dst = append(dst, rec[:]...)
	}
	return dst, nil
}

// DecodeReply reads n status bytes. Values are not carried by the binary reply.
func (BinaryCodec) DecodeReply(buf []byte, n int) ([]Result, int, error) {
	if len(buf) < n {
		return nil, 0, ErrIncomplete
	}
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		switch buf[i] {
		case StatusSuccess:
			results[i] = Result{OK: true}
		case StatusFailure:
			results[i] = Failure("")
		default:
			return nil, 0, &DecodeError{Message: fmt.Sprintf("unknown status byte %d", buf[i])}
		}
	}
	return results, n, nil
}
