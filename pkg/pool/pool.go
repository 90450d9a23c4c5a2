// Package pool runs a fixed set of workers, each a goroutine locked to an OS
// thread pinned to its own core.
//
// A worker starts idle and takes exactly one role for the rest of its life:
// an owner drains a FIFO mailbox of closures, a network worker runs a fiber
// scheduler.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"trustkv/pkg/affinity"
	"trustkv/pkg/dberrors"
	"trustkv/pkg/fiber"
	"trustkv/pkg/listener"
	"trustkv/pkg/types"
)

type role int32

const (
	roleIdle role = iota
	roleOwner
	roleNetwork
)

func (r role) String() string {
	switch r {
	case roleOwner:
		return "owner"
	case roleNetwork:
		return "network"
	default:
		return "idle"
	}
}

type options struct {
	cores        int
	pinner       affinity.Pinner
	mailboxDepth int
	logger       *slog.Logger
}

type Option func(*options)

// WithCores overrides the number of cores the placement plan is computed against.
func WithCores(n int) Option {
	return func(o *options) { o.cores = n }
}

func WithPinner(p affinity.Pinner) Option {
	return func(o *options) { o.pinner = p }
}

// WithMailboxDepth sets the capacity of each owner mailbox.
func WithMailboxDepth(n int) Option {
	return func(o *options) { o.mailboxDepth = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type Pool struct {
	workers []*Worker
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type Worker struct {
	id     types.WorkerID
	core   int
	pool   *Pool
	logger *slog.Logger

	role    atomic.Int32
	roleCh  chan role
	mailbox chan func()
	inject  chan func(*fiber.Scheduler)
	sched   atomic.Pointer[fiber.Scheduler]
	loop    atomic.Pointer[listener.Listener[func()]]
	owner   *Owner
}

// Owner is the claimed owner role of a worker.
type Owner struct {
	w     *Worker
	bound atomic.Bool
}

// Configure starts n workers placed according to strategy.
func Configure(n int, strategy affinity.Strategy, opts ...Option) (*Pool, error) {
	o := options{
		pinner:       affinity.Default(),
		mailboxDepth: 1024,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cores <= 0 {
		o.cores = affinity.AvailableCores()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.mailboxDepth < 1 {
		return nil, fmt.Errorf("%w: mailbox depth %d", dberrors.ErrInvalidArgument, o.mailboxDepth)
	}

	plan, err := affinity.Plan(n, o.cores, strategy)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: make([]*Worker, n),
		logger:  o.logger.With("component", "pool"),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := range p.workers {
		w := &Worker{
			id:      types.WorkerID(i),
			core:    plan[i],
			pool:    p,
			logger:  p.logger.With("worker", i, "core", plan[i]),
			roleCh:  make(chan role, 1),
			mailbox: make(chan func(), o.mailboxDepth),
			inject:  make(chan func(*fiber.Scheduler), o.mailboxDepth),
		}
		w.owner = &Owner{w: w}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(ctx, o.pinner)
	}

	p.logger.Info("pool configured", "workers", n, "strategy", strategy.String(), "cores", o.cores)
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Worker returns the worker with index i.
func (p *Pool) Worker(i int) *Worker {
	return p.workers[i]
}

// Close stops every worker and waits for their threads to exit.
// Cells and fibers must be released before the pool is closed.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("pool closed")
}

func (w *Worker) run(ctx context.Context, pinner affinity.Pinner) {
	defer w.pool.wg.Done()

	// поток не отпускается: после сужения маски он умирает вместе с горутиной
	runtime.LockOSThread()

	if err := pinner.Pin(w.core); err != nil {
		// не фатально: воркер продолжит работать без привязки к ядру
		w.logger.Warn("thread pinning failed", "error", err)
	}

	var r role
	select {
	case r = <-w.roleCh:
	case <-ctx.Done():
		return
	}

	switch r {
	case roleOwner:
		l := listener.New(w.mailbox, func(fn func()) error {
			fn()
			return nil
		})
		w.loop.Store(l)
		if err := l.Run(ctx); err != nil {
			w.logger.Error("owner loop stopped", "error", err)
		}
	case roleNetwork:
		s := fiber.New(w.inject, w.logger, fiber.WithFiberSetup(func() {
			runtime.LockOSThread()
			if err := pinner.Pin(w.core); err != nil {
				w.logger.Debug("fiber thread pinning failed", "error", err)
			}
		}))
		w.sched.Store(s)
		s.Run(ctx)
	}
}

func (w *Worker) claim(r role) error {
	if w.role.CompareAndSwap(int32(roleIdle), int32(r)) {
		w.roleCh <- r
		w.logger.Debug("worker role claimed", "role", r.String())
		return nil
	}
	if current := role(w.role.Load()); current != r {
		return fmt.Errorf("%w: worker %d is %s", dberrors.ErrRoleTaken, w.id, current)
	}
	return nil
}

// ID returns the worker index.
func (w *Worker) ID() types.WorkerID {
	return w.id
}

// Core returns the core the worker is pinned to.
func (w *Worker) Core() int {
	return w.core
}

// BecomeOwner claims the owner role. It fails for a network worker and for a
// worker whose owner role is already claimed.
func (w *Worker) BecomeOwner() (*Owner, error) {
	if role(w.role.Load()) == roleOwner {
		return nil, fmt.Errorf("%w: worker %d already owns a cell", dberrors.ErrRoleTaken, w.id)
	}
	if err := w.claim(roleOwner); err != nil {
		return nil, err
	}
	return w.owner, nil
}

// Schedule runs fn on the worker's fiber scheduler, claiming the network role on first use.
func (w *Worker) Schedule(fn func(*fiber.Scheduler)) error {
	if err := w.claim(roleNetwork); err != nil {
		return err
	}
	select {
	case w.inject <- fn:
		return nil
	case <-w.pool.ctx.Done():
		return dberrors.ErrClosed
	}
}

// Fibers reports the number of live fibers on a network worker.
func (w *Worker) Fibers() int {
	if s := w.sched.Load(); s != nil {
		return s.Len()
	}
	return 0
}

// Executed reports how many closures an owner has run.
func (w *Worker) Executed() uint64 {
	if l := w.loop.Load(); l != nil {
		return l.Handled()
	}
	return 0
}

// Queued reports how many closures wait in the owner mailbox.
func (w *Worker) Queued() int {
	if l := w.loop.Load(); l != nil {
		return l.Queued()
	}
	return 0
}

// Role returns "idle", "owner" or "network".
func (w *Worker) Role() string {
	return role(w.role.Load()).String()
}

// Bind marks the owner as hosting a cell; only the first call succeeds.
func (o *Owner) Bind() bool {
	return o.bound.CompareAndSwap(false, true)
}

// WorkerID returns the index of the owning worker.
func (o *Owner) WorkerID() types.WorkerID {
	return o.w.id
}

// Done is closed when the pool shuts down. Closures still queued then are never run.
func (o *Owner) Done() <-chan struct{} {
	return o.w.pool.ctx.Done()
}

// Submit enqueues fn on the owner mailbox. Closures from one goroutine run in submission order.
func (o *Owner) Submit(fn func()) error {
	select {
	case o.w.mailbox <- fn:
		return nil
	case <-o.w.pool.ctx.Done():
		return dberrors.ErrClosed
	}
}
