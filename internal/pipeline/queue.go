package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/emmy/internal/observe"
)

// ErrQueueClosed is returned by [Queue.Push] after Close, and by [Queue.Pop]
// once the queue is closed and empty.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is an unbounded FIFO hand-off between pipeline stages. Push never
// blocks; Pop blocks until an item is available. Items are handed out exactly
// once and in push order. Safe for any number of producers and consumers.
type Queue[T any] struct {
	name    string
	metrics *observe.Metrics

	mu     sync.Mutex
	items  []T
	closed bool
	// wake is closed (and replaced) whenever an item arrives or the queue is
	// closed. Nil while nobody waits.
	wake chan struct{}
}

// NewQueue returns an empty queue. name labels the depth metric; a nil m
// disables it.
func NewQueue[T any](name string, m *observe.Metrics) *Queue[T] {
	return &Queue[T]{name: name, metrics: m}
}

// Push appends v. It fails only after [Queue.Close].
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, v)
	q.signal()
	q.mu.Unlock()

	q.depth(1)
	return nil
}

// Pop removes and returns the oldest item. It blocks until one is available,
// ctx is done, or the queue is closed and drained. Items pushed before Close
// are still returned.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			q.depth(-1)
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		if q.wake == nil {
			q.wake = make(chan struct{})
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes and wakes all waiting consumers. Calling Close
// more than once is safe.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

// signal wakes every waiting Pop. Must be called with q.mu held.
func (q *Queue[T]) signal() {
	if q.wake != nil {
		close(q.wake)
		q.wake = nil
	}
}

func (q *Queue[T]) depth(delta int64) {
	if q.metrics != nil {
		q.metrics.AddQueueDepth(context.Background(), q.name, delta)
	}
}
