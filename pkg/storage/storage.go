// Package storage holds the shard storage backends. A Store is always reached
// through its owner worker; whether a backend is internally synchronized does
// not change how it is routed.
package storage

import (
	"fmt"

	"trustkv/pkg/dberrors"
	"trustkv/pkg/types"
)

const (
	BackendMap     = "map"
	BackendSkipmap = "skipmap"
)

// Store is the shard storage capability.
type Store interface {
	// Get returns the value stored under k.
	Get(k types.Key) (types.Value, bool)
	// Insert sets k to v and returns the previous value, if any.
	Insert(k types.Key, v types.Value) (types.Value, bool)
	// Remove deletes k and returns the removed value.
	Remove(k types.Key) (types.Value, bool)
	// Mutate replaces the value under k with fn's result and returns the stored value.
	// It fails with dberrors.ErrNotFound for an absent key and with fn's error otherwise.
	Mutate(k types.Key, fn func(types.Value) (types.Value, error)) (types.Value, error)
	Len() int
}

// New builds a store of the named backend, sized for capacity entries where the backend supports it.
func New(backend string, capacity int) (Store, error) {
	if capacity < 0 {
		capacity = 0
	}
	switch backend {
	case "", BackendMap:
		return NewMapStore(capacity), nil
	case BackendSkipmap:
		return NewSkipStore(), nil
	default:
		return nil, fmt.Errorf("%w: storage backend %q", dberrors.ErrInvalidArgument, backend)
	}
}
