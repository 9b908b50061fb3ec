// Package memory provides an in-process scan queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = scan.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan scan.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

var _ scan.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan scan.QueueItem, max(capacity, 0)),
	}
}

// Enqueue pushes a scan into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scan.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next scan, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scan.QueueItem, error) {
	select {
	case <-ctx.Done():
		return scan.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scan.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered scans.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Buffered items can still
// be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
