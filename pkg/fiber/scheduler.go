// Package fiber implements a cooperative scheduler that multiplexes many fibers
// over one worker.
//
// Exactly one fiber of a scheduler executes at any moment. A running fiber keeps
// the scheduler until it returns or calls Yield, which puts it at the tail of the
// run queue and hands control to the next ready fiber. There is no preemption
// between fibers of the same scheduler: a fiber that blocks without yielding
// stalls every other fiber on it.
package fiber

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
)

type event struct {
	f       *Fiber
	yielded bool
}

// Scheduler is owned by the goroutine that calls Run. Spawn may be called
// from that goroutine or from any fiber of the scheduler.
type Scheduler struct {
	inject <-chan func(*Scheduler)
	logger *slog.Logger
	setup  func()

	ready  []*Fiber
	parked chan event
	stop   chan struct{}
	nextID uint64
	live   atomic.Int64
}

// Fiber is the handle a running fiber uses to suspend itself.
type Fiber struct {
	id     uint64
	s      *Scheduler
	resume chan struct{}
}

// Handle joins a spawned fiber.
type Handle struct {
	done chan struct{}
	err  error
}

type Option func(*Scheduler)

// WithFiberSetup runs fn on every fiber goroutine before its first turn.
// A network worker uses it to lock fibers to threads pinned to its own core.
func WithFiberSetup(fn func()) Option {
	return func(s *Scheduler) { s.setup = fn }
}

// New creates a scheduler that also runs closures received on inject between fiber turns.
func New(inject <-chan func(*Scheduler), logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		inject: inject,
		logger: logger,
		parked: make(chan event),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn creates a ready fiber running fn. It does not run until the scheduler picks it.
func (s *Scheduler) Spawn(fn func(*Fiber)) *Handle {
	s.nextID++
	f := &Fiber{
		id:     s.nextID,
		s:      s,
		resume: make(chan struct{}),
	}
	h := &Handle{done: make(chan struct{})}
	s.live.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("fiber %d panicked: %v", f.id, r)
				s.logger.Error("fiber panicked", "fiber", f.id, "panic", r)
			}
			s.live.Add(-1)
			close(h.done)
			select {
			case s.parked <- event{f: f}:
			case <-s.stop:
			}
		}()

		if s.setup != nil {
			s.setup()
		}
		select {
		case <-f.resume:
		case <-s.stop:
			runtime.Goexit()
		}
		fn(f)
	}()

	s.ready = append(s.ready, f)
	return h
}

// Len reports the number of fibers that have not finished yet.
func (s *Scheduler) Len() int {
	return int(s.live.Load())
}

// Run drives the scheduler until ctx is done. Fibers still suspended at that
// point are terminated at their next resumption point.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stop)

	for {
		if len(s.ready) == 0 {
			select {
			case fn, ok := <-s.inject:
				if !ok {
					return
				}
				fn(s)
			case <-ctx.Done():
				return
			}
			continue
		}

		if !s.drainInject() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		f := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]

		f.resume <- struct{}{}
		ev := <-s.parked
		if ev.yielded {
			s.ready = append(s.ready, ev.f)
		}
	}
}

// drainInject runs every pending injected closure without blocking.
// It returns false once the inject channel is closed.
func (s *Scheduler) drainInject() bool {
	for {
		select {
		case fn, ok := <-s.inject:
			if !ok {
				return false
			}
			fn(s)
		default:
			return true
		}
	}
}

// ID returns the fiber's id, unique within its scheduler.
func (f *Fiber) ID() uint64 {
	return f.id
}

// Yield suspends the fiber and lets the next ready fiber run.
func (f *Fiber) Yield() {
	select {
	case f.s.parked <- event{f: f, yielded: true}:
	case <-f.s.stop:
		runtime.Goexit()
	}
	select {
	case <-f.resume:
	case <-f.s.stop:
		runtime.Goexit()
	}
}

// Join waits for the fiber to finish and reports a panic as an error.
func (h *Handle) Join() error {
	<-h.done
	return h.err
}

// Done is closed when the fiber has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
