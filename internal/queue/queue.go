// Package queue holds rows waiting for the next batch write.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO of rows.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
	}
}

// Push appends items to the queue.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Requeue puts items back at the head, ahead of anything pushed since they were taken.
func (q *Queue[T]) Requeue(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(items[:len(items):len(items)], q.items...)
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	return q.Take(0)
}

// Take removes and returns up to n items from the head; n <= 0 takes everything.
func (q *Queue[T]) Take(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n >= len(q.items) {
		result := q.items
		q.items = make([]T, 0, cap(q.items))
		return result
	}
	result := make([]T, n)
	copy(result, q.items)
	q.items = append(q.items[:0:0], q.items[n:]...)
	return result
}
