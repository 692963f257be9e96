package queue

import (
	"context"
	"sync"

	"github.com/cuongbtq/hair3d/internal/domain"
)

type memoryItem struct {
	jobID    string
	sentinel bool
}

// Memory is an unbounded in-process FIFO.
// Close appends a shutdown sentinel; ids enqueued before it are still delivered.
type Memory struct {
	mu       sync.Mutex
	items    []memoryItem
	closing  bool // sentinel enqueued
	drained  bool // sentinel consumed
	notEmpty chan struct{}
}

// NewMemory creates an empty in-memory queue
func NewMemory() *Memory {
	return &Memory{notEmpty: make(chan struct{}, 1)}
}

func (q *Memory) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Enqueue never blocks
func (q *Memory) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing {
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, memoryItem{jobID: jobID})
	q.signal()
	return nil
}

// Dequeue blocks until an id, the sentinel, or ctx cancellation
func (q *Memory) Dequeue(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if q.drained {
			q.mu.Unlock()
			return nil, domain.ErrQueueClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = memoryItem{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			if item.sentinel {
				q.drained = true
				q.mu.Unlock()
				return nil, domain.ErrQueueClosed
			}
			q.mu.Unlock()
			return &Message{JobID: item.jobID}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// Close enqueues the shutdown sentinel. Calling it again is a no-op.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing {
		return nil
	}
	q.closing = true
	q.items = append(q.items, memoryItem{sentinel: true})
	q.signal()
	return nil
}

// Len excludes the sentinel
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if q.closing && !q.drained {
		n--
	}
	return n
}
