package utils

import "sync"

// BlockingQueue is an unbounded FIFO queue whose Dequeue blocks until an item is available
type BlockingQueue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

// CreateBlockingQueue creates an empty queue
func CreateBlockingQueue[T any]() *BlockingQueue[T] {
	q := &BlockingQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item to the tail of the queue
func (q *BlockingQueue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Dequeue removes and returns the head of the queue, waiting if it is empty
func (q *BlockingQueue[T]) Dequeue() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item
}

// Len returns the number of queued items
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item
func (q *BlockingQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
