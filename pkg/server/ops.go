package server

import (
	"errors"

	"trustkv/pkg/dberrors"
	"trustkv/pkg/storage"
	"trustkv/pkg/types"
	"trustkv/pkg/wire"
)

const (
	reasonAbsent     = "absent"
	reasonNotInt     = "value is not an integer"
	reasonKeyKind    = "key kind does not match handshake"
	reasonValueKind  = "value kind does not match handshake"
	reasonUnknownOp  = "unknown operation"
	reasonOwnerPanic = "owner failed"
)

// execute applies op to the shard store. It runs on the shard's owner.
func execute(st storage.Store, op wire.Operation) wire.Result {
	switch op.Kind {
	case wire.OpRead:
		if v, ok := st.Get(op.Key); ok {
			return wire.Success(v)
		}
		return wire.Failure(reasonAbsent)

	case wire.OpInsert:
		if prev, ok := st.Insert(op.Key, op.Value); ok {
			return wire.Success(prev)
		}
		return wire.Success(op.Value)

	case wire.OpRemove:
		if v, ok := st.Remove(op.Key); ok {
			return wire.Success(v)
		}
		return wire.Failure(reasonAbsent)

	case wire.OpIncrement:
		stored, err := st.Mutate(op.Key, increment)
		switch {
		case errors.Is(err, dberrors.ErrNotFound):
			return wire.Failure(reasonAbsent)
		case err != nil:
			return wire.Failure(reasonNotInt)
		}
		// клиенты ожидают значение на единицу больше сохранённого
		return wire.Success(types.Int(stored.Int + 1))

	default:
		return wire.Failure(reasonUnknownOp)
	}
}

func increment(v types.Value) (types.Value, error) {
	if v.Kind != types.KindInt {
		return v, dberrors.ErrTypeMismatch
	}
	return types.Int(v.Int + 1), nil
}

// precheck rejects an operation before it is routed. The zero Result means the op may proceed.
func precheck(hs wire.Handshake, op wire.Operation) (wire.Result, bool) {
	if op.Key.Kind != hs.KeyKind() {
		return wire.Failure(reasonKeyKind), false
	}
	if op.Kind == wire.OpInsert && op.Value.Kind != hs.ValueKind() {
		return wire.Failure(reasonValueKind), false
	}
	return wire.Result{}, true
}
