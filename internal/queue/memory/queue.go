// Package memory provides the in-process pipeline work queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan transform.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan transform.QueueItem, capacity),
	}
}

// Enqueue pushes a work item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item transform.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (transform.QueueItem, error) {
	select {
	case <-ctx.Done():
		return transform.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return transform.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
