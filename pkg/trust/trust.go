// Package trust binds a value to one owner worker and lets any goroutine run
// closures against it on that worker.
//
// The value is never touched outside its owner: Apply and LazyApply ship a
// closure through the owner's FIFO mailbox and hand back the closure's result.
// Closures submitted by one goroutine run in submission order.
package trust

import (
	"fmt"

	"trustkv/pkg/dberrors"
	"trustkv/pkg/pool"
	"trustkv/pkg/types"
)

type cell[V any] struct {
	owner *pool.Owner
	value V
}

// Trust is a handle to an entrusted value. Copies refer to the same cell.
type Trust[V any] struct {
	c *cell[V]
}

// Entrust moves v into a cell hosted by owner. An owner hosts at most one cell.
func Entrust[V any](owner *pool.Owner, v V) (Trust[V], error) {
	if owner == nil {
		return Trust[V]{}, fmt.Errorf("%w: nil owner", dberrors.ErrInvalidArgument)
	}
	if !owner.Bind() {
		return Trust[V]{}, fmt.Errorf("%w: worker %d already hosts a cell", dberrors.ErrRoleTaken, owner.WorkerID())
	}
	return Trust[V]{c: &cell[V]{owner: owner, value: v}}, nil
}

// Owner returns the index of the worker hosting the cell.
func (t Trust[V]) Owner() types.WorkerID {
	return t.c.owner.WorkerID()
}

// Pending is the result of a deferred call. It must be joined exactly once.
type Pending[R any] struct {
	ch     chan outcome[R]
	done   <-chan struct{}
	joined bool
}

type outcome[R any] struct {
	val   R
	panic any
	err   error
}

// Join blocks until the closure has run on the owner and returns its result.
// A panic raised by the closure is re-raised here, and Join panics with an
// error wrapping dberrors.ErrClosed when the pool stops first.
func (p *Pending[R]) Join() R {
	if p.joined {
		panic("trust: pending result joined twice")
	}
	p.joined = true

	var out outcome[R]
	select {
	case out = <-p.ch:
	case <-p.done:
		// пул остановлен, замыкание может так и не выполниться
		select {
		case out = <-p.ch:
		default:
			out.err = fmt.Errorf("trust: owner stopped: %w", dberrors.ErrClosed)
		}
	}
	if out.err != nil {
		panic(out.err)
	}
	if out.panic != nil {
		panic(fmt.Sprintf("trust: closure panicked on owner: %v", out.panic))
	}
	return out.val
}

// LazyApply enqueues fn on the owner and returns without waiting for it.
func LazyApply[V, R any](t Trust[V], fn func(V) R) *Pending[R] {
	c := t.c
	p := &Pending[R]{ch: make(chan outcome[R], 1), done: c.owner.Done()}

	err := c.owner.Submit(func() {
		var out outcome[R]
		defer func() {
			if r := recover(); r != nil {
				out.panic = r
			}
			p.ch <- out
		}()
		out.val = fn(c.value)
	})
	if err != nil {
		p.ch <- outcome[R]{err: fmt.Errorf("trust: submit to worker %d: %w", c.owner.WorkerID(), err)}
	}

	return p
}

// Apply runs fn on the owner and waits for its result.
func Apply[V, R any](t Trust[V], fn func(V) R) R {
	return LazyApply(t, fn).Join()
}
