package server

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"trustkv/pkg/fiber"
	"trustkv/pkg/metrics"
	"trustkv/pkg/sharding"
	"trustkv/pkg/storage"
	"trustkv/pkg/trust"
	"trustkv/pkg/wire"
)

const (
	DispatchLazy = "lazy"
	DispatchSync = "sync"
)

// session is the per-experiment dispatch state shared by every connection fiber.
// It is read-only after construction.
type session struct {
	hs      wire.Handshake
	codec   wire.Codec
	router  *sharding.Router[trust.Trust[storage.Store]]
	lazy    bool
	metrics metrics.Collector
	logger  *slog.Logger
	ops     *opCounter
}

type opCounter struct {
	total   atomic.Uint64
	batches atomic.Uint64
}

// serve runs the dispatch loop for one connection until Close, EOF or a fatal error.
func (s *session) serve(f *fiber.Fiber, c *conn, wave string) {
	log := s.logger.With("wave", wave, "fiber", f.ID(), "remote", c.remote())
	defer func() {
		if err := c.close(); err != nil {
			log.Debug("close connection", "error", err)
		}
	}()

	for {
		ops, err := c.readBatch(f, s.codec)
		if err != nil {
			var derr *wire.DecodeError
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("connection closed by peer")
			case errors.As(err, &derr):
				s.metrics.IncCounter("trustkv_decode_errors_total", map[string]string{"protocol": s.codec.Name()}, 1)
				log.Warn("dropping connection after decode failure", "error", err)
			default:
				log.Warn("read failed", "error", err)
			}
			return
		}

		start := time.Now()
		results, closed := s.dispatch(ops)
		s.ops.total.Add(uint64(len(results)))
		s.ops.batches.Add(1)

		if closed {
			log.Debug("connection closed by request")
			return
		}

		if err := c.writeReply(s.codec, results); err != nil {
			log.Warn("write reply failed", "error", err)
			return
		}
		s.metrics.ObserveHistogram("trustkv_batch_duration_seconds", map[string]string{"protocol": s.codec.Name()}, time.Since(start).Seconds())
	}
}

// dispatch routes every operation of a batch to its shard owner and collects
// the results in submission order. Operations preceding a Close are executed
// but closed is reported and no reply must be sent.
func (s *session) dispatch(ops []wire.Operation) ([]wire.Result, bool) {
	results := make([]wire.Result, 0, len(ops))
	pending := make([]*trust.Pending[wire.Result], 0, len(ops))
	var tally tally

	closed := false
	for _, op := range ops {
		if op.Kind == wire.OpClose {
			closed = true
			break
		}
		if res, ok := precheck(s.hs, op); !ok {
			results = append(results, res)
			pending = append(pending, nil)
			continue
		}

		_, shard := s.router.Route(op.Key)
		op := op
		fn := func(st storage.Store) wire.Result { return execute(st, op) }
		if s.lazy {
			results = append(results, wire.Result{})
			pending = append(pending, trust.LazyApply(shard, fn))
			continue
		}
		results = append(results, s.apply(shard, fn))
		pending = append(pending, nil)
	}

	for i, p := range pending {
		if p != nil {
			results[i] = s.join(p)
		}
		tally.add(ops[i].Kind, results[i].OK)
	}
	tally.flush(s.metrics)

	return results, closed
}

func (s *session) apply(shard trust.Trust[storage.Store], fn func(storage.Store) wire.Result) (res wire.Result) {
	defer s.recoverOwner(&res)
	return trust.Apply(shard, fn)
}

func (s *session) join(p *trust.Pending[wire.Result]) (res wire.Result) {
	defer s.recoverOwner(&res)
	return p.Join()
}

// recoverOwner turns an owner-side panic into a per-operation failure.
func (s *session) recoverOwner(res *wire.Result) {
	if r := recover(); r != nil {
		s.logger.Error("operation failed on owner", "panic", r)
		*res = wire.Failure(reasonOwnerPanic)
	}
}

// tally aggregates per-batch outcomes so metrics are touched once per kind.
type tally [wire.OpIncrement + 1][2]int

func (t *tally) add(k wire.OpKind, ok bool) {
	if int(k) >= len(t) {
		return
	}
	if ok {
		t[k][0]++
	} else {
		t[k][1]++
	}
}

func (t *tally) flush(m metrics.Collector) {
	for k := range t {
		for i, n := range t[k] {
			if n == 0 {
				continue
			}
			result := "success"
			if i == 1 {
				result = "failure"
			}
			m.IncCounter("trustkv_operations_total", map[string]string{
				"op":     wire.OpKind(k).String(),
				"result": result,
			}, float64(n))
		}
	}
}
