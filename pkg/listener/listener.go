package listener

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

// Listener drains a channel and hands every item to handler, in receive order.
// It is the run loop of an owner worker: the channel is the owner mailbox.
type Listener[T any] struct {
	handler func(input T) error

	in      <-chan T
	handled atomic.Uint64
}

func New[T any](in <-chan T, handler func(T) error) *Listener[T] {
	return &Listener[T]{
		in:      in,
		handler: handler,
	}
}

// Run drains the channel on the calling goroutine until ctx is cancelled or
// the channel is closed. A handler error stops the loop and is returned.
func (l *Listener[T]) Run(ctx context.Context) error {
	for {
		err := l.run(ctx)
		switch {
		case errors.Is(err, errListenerStopped):
			return nil
		case err != nil:
			return err
		}
	}
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errListenerStopped
		}
		err := l.handler(inp)
		l.handled.Add(1)
		if err != nil {
			return fmt.Errorf("failed to handle input: %w", err)
		}
	case <-ctx.Done():
		return errListenerStopped
	}

	return nil
}

// Handled reports how many items the handler has processed.
func (l *Listener[T]) Handled() uint64 {
	return l.handled.Load()
}

// Queued reports how many items wait in the channel.
func (l *Listener[T]) Queued() int {
	return len(l.in)
}
