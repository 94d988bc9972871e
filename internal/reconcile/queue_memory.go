package reconcile

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a process-local pending-bind queue. Items whose handling
// fails are put back and retried after the retry delay.
type MemoryQueue struct {
	mu         sync.Mutex
	items      []PendingBind
	signal     chan struct{}
	retryDelay time.Duration
}

func NewMemoryQueue(retryDelay time.Duration) *MemoryQueue {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &MemoryQueue{signal: make(chan struct{}, 1), retryDelay: retryDelay}
}

func (q *MemoryQueue) Enqueue(_ context.Context, pb PendingBind) error {
	q.mu.Lock()
	q.items = append(q.items, pb)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Len reports queued items.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) pop() (PendingBind, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingBind{}, false
	}
	pb := q.items[0]
	q.items = q.items[1:]
	return pb, true
}

func (q *MemoryQueue) pushFront(pb PendingBind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]PendingBind{pb}, q.items...)
}

// Run hands queued items to w until ctx is cancelled.
func (q *MemoryQueue) Run(ctx context.Context, w *Worker) error {
	for {
		for {
			pb, ok := q.pop()
			if !ok {
				break
			}
			if err := w.Handle(ctx, pb); err != nil {
				q.pushFront(pb)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(q.retryDelay):
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}
