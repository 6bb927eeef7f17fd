package pipeline

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO that never blocks producers: when full, Put evicts
// the oldest item. Get hands out a ticket with each item numbering dequeues
// from zero, so consumers can restore dequeue order downstream.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	taken    uint64
	closed   bool
	ready    chan struct{}
	done     chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put appends item. When the queue is full the oldest item is removed and
// returned with evicted=true. Put on a closed queue reports ok=false.
func (q *Queue[T]) Put(item T) (evictedItem T, evicted, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return evictedItem, false, false
	}
	if len(q.items) == q.capacity {
		evictedItem, evicted = q.items[0], true
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return evictedItem, evicted, true
}

// Get blocks until an item is available, the queue is closed and drained, or
// ctx is done. The ticket is the item's dequeue sequence number.
func (q *Queue[T]) Get(ctx context.Context) (item T, ticket uint64, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			ticket = q.taken
			q.taken++
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return item, ticket, true
		}
		if q.closed {
			q.mu.Unlock()
			return item, 0, false
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return item, 0, false
		}
	}
}

// Close stops accepting items. Items already queued can still be taken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
