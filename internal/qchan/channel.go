// Package qchan implements the bounded, context-aware FIFO spec.md
// names Channel<T> (§3, §4.2). It generalizes the mailbox shape the
// teacher hand-rolls per-actor (registry.Cell's buffered channel plus a
// done-channel select, see DESIGN.md) into a reusable generic type;
// the event broker's internal queue (internal/event.Broker) is built
// on it.
package qchan

import (
	"sync"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

// Channel is a bounded FIFO safe for any number of producers and
// consumers. Its zero value is not usable; construct with New.
//
// closed is a distinct, never-written-to signal channel rather than
// ch itself being closed: closing ch would race a concurrent Send that
// already passed its non-blocking closed-check and is about to enqueue
// on c.ch, panicking on a send to a closed channel. Gating everything
// through closed (only ever closed, never sent on) avoids that
// entirely.
type Channel[T any] struct {
	ch        chan T
	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Channel with capacity N >= 1.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Send blocks until a slot is free, ctx cancels, or the channel closes.
// It returns false in the latter two cases, true once the item is
// enqueued — matching spec.md's `send(ctx, v) -> bool` contract.
func (c *Channel[T]) Send(ctx meshctx.Context, v T) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.ch <- v:
		return true
	case <-c.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// TrySend enqueues v without blocking, returning false if the channel
// is full or already closed. For producers that must never block on a
// congested consumer (the event broker's Publish, spec §4.7: "pushes
// onto an internal channel... [if full] it logs and drops" rather than
// applying backpressure to the publisher).
func (c *Channel[T]) TrySend(v T) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Receive blocks until an item is available, ctx cancels, or the
// channel closes and drains empty. It returns (zero, false) in the
// latter two cases. Already-queued items are always delivered before
// a concurrent Close empties the channel: the first, non-blocking
// select gives a buffered value priority over the closed signal.
func (c *Channel[T]) Receive(ctx meshctx.Context) (T, bool) {
	select {
	case v := <-c.ch:
		return v, true
	default:
	}
	select {
	case v := <-c.ch:
		return v, true
	case <-c.closed:
		var zero T
		return zero, false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Close unblocks all waiters with an empty result. Safe to call more
// than once; only the first call has effect.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Len reports the number of items currently queued, for metrics/debug
// surfaces only — never used for control flow.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}
