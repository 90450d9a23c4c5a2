package wire

import (
	"strconv"

	"trustkv/pkg/types"
)

// OpKind values double as binary opcodes.
type OpKind uint8

const (
	OpClose OpKind = iota
	OpRead
	OpInsert
	OpRemove
	OpIncrement
)

func (k OpKind) String() string {
	switch k {
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpIncrement:
		return "increment"
	default:
		return "op(" + strconv.Itoa(int(k)) + ")"
	}
}

// Operation is one request of a batch. Value is only meaningful for inserts.
type Operation struct {
	Kind  OpKind
	Key   types.Key
	Value types.Value
}

func Read(k types.Key) Operation        { return Operation{Kind: OpRead, Key: k} }
func Insert(k, v types.Value) Operation { return Operation{Kind: OpInsert, Key: k, Value: v} }
func Remove(k types.Key) Operation      { return Operation{Kind: OpRemove, Key: k} }
func Increment(k types.Key) Operation   { return Operation{Kind: OpIncrement, Key: k} }
func Close() Operation                  { return Operation{Kind: OpClose} }

// Result is the outcome of one operation.
type Result struct {
	OK     bool
	Value  types.Value
	Reason string
}

func Success(v types.Value) Result {
	return Result{OK: true, Value: v}
}

func Failure(reason string) Result {
	return Result{Reason: reason}
}
