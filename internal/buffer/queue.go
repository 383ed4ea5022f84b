// Package buffer provides the unbounded FIFO queue that decouples transport
// read loops from slower consumers such as handler delivery and the change
// journal.
package buffer

import (
	"context"
	"sync"
)

// Queue is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full. When a limit is set, pushing onto a full queue evicts
// the oldest item instead of growing past the limit.
type Queue[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	limit  int
	closed bool

	// ready has capacity 1 and carries a wake-up for one blocked receiver.
	ready chan struct{}

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// Stats contains queue statistics.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// New creates a queue with the given initial capacity. limit caps the
// number of queued items; zero means unbounded.
func New[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	return &Queue[T]{
		ring:  make([]T, initialCapacity),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends an item. It returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.limit > 0 && q.count >= q.limit {
		q.popLocked()
		q.popped--
		q.dropped++
	} else if q.needsGrowth() {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++
	q.wake()
	return true
}

// Pop removes the oldest item without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Receive blocks until an item is available, the queue is closed and
// drained, or ctx is done. It returns false in the latter two cases.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			item := q.popLocked()
			if q.count > 0 {
				q.wake()
			}
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.ready:
		}
	}
}

// Drain removes up to max items (all items if max <= 0).
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	items := make([]T, n)
	for i := range items {
		items[i] = q.popLocked()
	}
	return items
}

// Close stops accepting items. Receivers drain what is left and then
// observe the close.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.count,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// popLocked must be called with mu held and count > 0.
func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.popped++
	return item
}

func (q *Queue[T]) needsGrowth() bool {
	threshold := len(q.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	return q.count+1 >= threshold || q.count == len(q.ring)
}

// grow doubles capacity, clamped to limit. Must be called with mu held.
func (q *Queue[T]) grow() {
	size := len(q.ring) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.ring) {
		return
	}

	ring := make([]T, size)
	for i := 0; i < q.count; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}

// wake must be called with mu held.
func (q *Queue[T]) wake() {
	if q.closed {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
