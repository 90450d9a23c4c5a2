package storage

import (
	"trustkv/pkg/dberrors"
	"trustkv/pkg/types"

	"github.com/zhangyunhao116/skipmap"
)

type orderedMap = skipmap.FuncMap[types.Key, types.Value]

// SkipStore is backed by a lock-free ordered skip list. It is safe for
// concurrent use on its own, but shards still route every call through the owner.
type SkipStore struct {
	m *orderedMap
}

func NewSkipStore() *SkipStore {
	return &SkipStore{m: skipmap.NewFunc[types.Key, types.Value](func(a, b types.Key) bool {
		return a.Less(b)
	})}
}

func (s *SkipStore) Get(k types.Key) (types.Value, bool) {
	return s.m.Load(k)
}

func (s *SkipStore) Insert(k types.Key, v types.Value) (types.Value, bool) {
	prev, ok := s.m.Load(k)
	s.m.Store(k, v)
	return prev, ok
}

func (s *SkipStore) Remove(k types.Key) (types.Value, bool) {
	return s.m.LoadAndDelete(k)
}

func (s *SkipStore) Mutate(k types.Key, fn func(types.Value) (types.Value, error)) (types.Value, error) {
	v, ok := s.m.Load(k)
	if !ok {
		return types.Value{}, dberrors.ErrNotFound
	}
	next, err := fn(v)
	if err != nil {
		return types.Value{}, err
	}
	s.m.Store(k, next)
	return next, nil
}

func (s *SkipStore) Len() int {
	return s.m.Len()
}
