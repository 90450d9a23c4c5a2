package workload

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/zhangyunhao116/fastrand"

	"trustkv/pkg/types"
	"trustkv/pkg/wire"
)

type source interface {
	Uint64() uint64
}

type fastSource struct{}

func (fastSource) Uint64() uint64 { return fastrand.Uint64() }

// Stream produces the operations of one client thread. It is not safe for
// concurrent use; each thread owns its Stream.
type Stream struct {
	w   Workload
	rng source

	prefillLeft int
	opsLeft     int
	// present holds keys this stream inserted and has not removed since.
	present []uint64
}

// Stream returns the stream of thread i.
func (w Workload) Stream(i int) *Stream {
	var rng source = fastSource{}
	if w.Seed != nil {
		seed := *w.Seed
		// разные потоки получают разные последовательности
		binary.LittleEndian.PutUint64(seed[:8], binary.LittleEndian.Uint64(seed[:8])^uint64(i))
		rng = rand.NewChaCha8(seed)
	}
	return &Stream{
		w:           w,
		rng:         rng,
		prefillLeft: w.PrefillPerThread(),
		opsLeft:     w.OpsPerThread(),
		present:     make([]uint64, 0, w.PrefillPerThread()),
	}
}

// NextPrefill returns up to n inserts of fresh keys, or nil when prefill is done.
func (s *Stream) NextPrefill(n int) []wire.Operation {
	n = min(n, s.prefillLeft)
	if n <= 0 {
		return nil
	}
	ops := make([]wire.Operation, n)
	for i := range ops {
		ops[i] = s.insert()
	}
	s.prefillLeft -= n
	return ops
}

// Next returns up to n measured operations, or nil when the stream is exhausted.
func (s *Stream) Next(n int) []wire.Operation {
	n = min(n, s.opsLeft)
	if n <= 0 {
		return nil
	}
	ops := make([]wire.Operation, n)
	for i := range ops {
		ops[i] = s.next()
	}
	s.opsLeft -= n
	return ops
}

// Remaining reports how many measured operations are left.
func (s *Stream) Remaining() int {
	return s.opsLeft
}

func (s *Stream) next() wire.Operation {
	m := s.w.Mix
	roll := uint8(s.rng.Uint64() % 100)

	switch {
	case roll < m.Read:
		return wire.Read(types.Int(s.existing()))
	case roll < m.Read+m.Insert:
		return s.insert()
	case roll < m.Read+m.Insert+m.Remove:
		return wire.Remove(types.Int(s.take()))
	case roll < m.Read+m.Insert+m.Remove+m.Update:
		return wire.Increment(types.Int(s.existing()))
	default:
		// upsert: the protocol has no separate verb, Insert overwrites
		if s.rng.Uint64()&1 == 0 && len(s.present) > 0 {
			k := s.existing()
			return wire.Insert(types.Int(k), types.Int(k))
		}
		return s.insert()
	}
}

func (s *Stream) insert() wire.Operation {
	k := s.rng.Uint64()
	s.present = append(s.present, k)
	return wire.Insert(types.Int(k), types.Int(k))
}

// existing picks a present key, or a random (most likely absent) one.
func (s *Stream) existing() uint64 {
	if len(s.present) == 0 {
		return s.rng.Uint64()
	}
	return s.present[s.rng.Uint64()%uint64(len(s.present))]
}

// take removes and returns a present key, or a random one if none is left.
func (s *Stream) take() uint64 {
	if len(s.present) == 0 {
		return s.rng.Uint64()
	}
	i := s.rng.Uint64() % uint64(len(s.present))
	k := s.present[i]
	last := len(s.present) - 1
	s.present[i] = s.present[last]
	s.present = s.present[:last]
	return k
}
