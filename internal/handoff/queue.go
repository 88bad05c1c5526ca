// Package handoff moves items from a real-time producer to a single consumer
// without ever blocking the producer.
package handoff

import (
	"context"
	"errors"
	"sync/atomic"
)

// Errors returned by the queue
var (
	ErrClosed = errors.New("handoff queue closed")
	ErrFull   = errors.New("handoff queue at limit")
)

// Options configures a Queue
type Options struct {
	// Limit is a hard cap on queued items. Zero means unbounded.
	// When the cap is reached new items are dropped (drop-newest).
	Limit int

	// HighWater is the backlog size the consumer reports as a warning.
	// Zero disables the warning.
	HighWater int

	// OnHighWater is called from the consumer when the backlog reaches
	// HighWater. It fires again only after the backlog has fallen below
	// half of HighWater.
	OnHighWater func(backlog int)
}

type node[T any] struct {
	next atomic.Pointer[node[T]]
	val  T
}

// Queue is a multi-producer, single-consumer linked queue.
//
// Push is lock-free and never waits: it swaps the head pointer, links the
// new node and wakes the consumer with a non-blocking send. With no Limit the
// queue grows without bound while the consumer stalls; HighWater and Len make
// that growth visible, and Limit trades it for dropped items.
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	tail *node[T] // consumer only

	length    atomic.Int64
	highWater atomic.Int64
	dropped   atomic.Uint64
	limit     int64
	warnAt    int64
	warned    bool // consumer only

	notify chan struct{}
	done   chan struct{}
	closed atomic.Bool

	onHighWater func(backlog int)
}

// New creates an empty queue
func New[T any](opts Options) *Queue[T] {
	stub := &node[T]{}
	q := &Queue[T]{
		tail:        stub,
		limit:       int64(opts.Limit),
		warnAt:      int64(opts.HighWater),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		onHighWater: opts.OnHighWater,
	}
	q.head.Store(stub)
	return q
}

// Push appends v without blocking. It returns ErrClosed after Close and
// ErrFull when the configured limit is reached; the item is dropped and
// counted in both cases.
func (q *Queue[T]) Push(v T) error {
	if q.closed.Load() {
		q.dropped.Add(1)
		return ErrClosed
	}

	n := q.length.Add(1)
	if q.limit > 0 && n > q.limit {
		q.length.Add(-1)
		q.dropped.Add(1)
		return ErrFull
	}

	nd := &node[T]{val: v}
	prev := q.head.Swap(nd)
	prev.next.Store(nd)

	for {
		hw := q.highWater.Load()
		if n <= hw || q.highWater.CompareAndSwap(hw, n) {
			break
		}
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// tryPop removes the oldest item if one is fully linked
func (q *Queue[T]) tryPop() (T, bool) {
	var zero T
	next := q.tail.next.Load()
	if next == nil {
		return zero, false
	}
	v := next.val
	next.val = zero
	q.tail = next
	q.length.Add(-1)
	return v, true
}

// Recv waits for the next item. Once the queue is closed, remaining items are
// still returned in order, followed by ErrClosed. Recv must only be called
// from one goroutine.
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	for {
		if v, ok := q.tryPop(); ok {
			q.checkHighWater()
			return v, nil
		}
		if q.closed.Load() {
			if v, ok := q.tryPop(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (q *Queue[T]) checkHighWater() {
	if q.warnAt <= 0 {
		return
	}
	backlog := q.length.Load()
	switch {
	case !q.warned && backlog >= q.warnAt:
		q.warned = true
		if q.onHighWater != nil {
			q.onHighWater(int(backlog))
		}
	case q.warned && backlog < q.warnAt/2:
		q.warned = false
	}
}

// Close marks the queue closed and wakes the consumer. Items already queued
// can still be received. Close is idempotent.
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	return int(q.length.Load())
}

// HighWater returns the largest backlog observed since creation
func (q *Queue[T]) HighWater() int {
	return int(q.highWater.Load())
}

// Dropped returns how many pushes were refused
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
