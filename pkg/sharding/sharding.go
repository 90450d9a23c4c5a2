package sharding

import (
	"github.com/cespare/xxhash/v2"

	"trustkv/pkg/types"
)

// KeyHasher deterministically maps keys to shard IDs.
type KeyHasher interface {
	ShardForKey(key types.Key, totalShards int) types.ShardID
}

// Modulo routes integer keys by key mod totalShards and string keys by their
// xxhash64 digest mod totalShards. It is a pure function of its arguments.
type Modulo struct{}

func (Modulo) ShardForKey(key types.Key, totalShards int) types.ShardID {
	return types.ShardID(Index(key, totalShards))
}

// Index is Modulo.ShardForKey returning an int, for slice indexing.
// totalShards must be positive.
func Index(key types.Key, totalShards int) int {
	n := uint64(totalShards)
	switch key.Kind {
	case types.KindString:
		return int(xxhash.Sum64String(key.Str) % n)
	default:
		return int(key.Int % n)
	}
}

// Router resolves keys to entries of a fixed shard table.
type Router[S any] struct {
	hasher KeyHasher
	shards []S
}

func NewRouter[S any](hasher KeyHasher, shards []S) *Router[S] {
	if hasher == nil {
		hasher = Modulo{}
	}
	return &Router[S]{hasher: hasher, shards: shards}
}

// Route returns the shard id and the shard owning key.
func (r *Router[S]) Route(key types.Key) (types.ShardID, S) {
	id := r.hasher.ShardForKey(key, len(r.shards))
	return id, r.shards[id]
}

// Len returns the shard count.
func (r *Router[S]) Len() int {
	return len(r.shards)
}

// Shards returns the shard table. The slice must not be modified.
func (r *Router[S]) Shards() []S {
	return r.shards
}
