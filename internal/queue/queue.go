// Package queue provides an unbounded FIFO used for per-connection outbound
// traffic.
//
// Push never blocks, so producers (other peers' connections, or callers of a
// client's send methods) are never stalled by a slow consumer. The consumer
// waits on Ready and takes everything queued so far with Drain, which keeps
// enqueue order.
package queue

import "sync"

type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	ready chan struct{}
	done  chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v. It returns false if the queue has been closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready receives a value whenever items may be waiting to be drained.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Done is closed once the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Drain removes and returns all queued items in enqueue order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Items already queued stay drainable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
