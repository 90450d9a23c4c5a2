package storage

import (
	"trustkv/pkg/dberrors"
	"trustkv/pkg/types"
)

// MapStore is a plain Go map. It relies on exclusive ownership and has no locking.
type MapStore struct {
	m map[types.Key]types.Value
}

func NewMapStore(capacity int) *MapStore {
	return &MapStore{m: make(map[types.Key]types.Value, capacity)}
}

func (s *MapStore) Get(k types.Key) (types.Value, bool) {
	v, ok := s.m[k]
	return v, ok
}

func (s *MapStore) Insert(k types.Key, v types.Value) (types.Value, bool) {
	prev, ok := s.m[k]
	s.m[k] = v
	return prev, ok
}

func (s *MapStore) Remove(k types.Key) (types.Value, bool) {
	v, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return v, ok
}

func (s *MapStore) Mutate(k types.Key, fn func(types.Value) (types.Value, error)) (types.Value, error) {
	v, ok := s.m[k]
	if !ok {
		return types.Value{}, dberrors.ErrNotFound
	}
	next, err := fn(v)
	if err != nil {
		return types.Value{}, err
	}
	s.m[k] = next
	return next, nil
}

func (s *MapStore) Len() int {
	return len(s.m)
}
