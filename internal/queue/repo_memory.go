package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-memory Queue for tests.
type MemoryQueue struct {
	mu    sync.Mutex
	calls []DeferredCall
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Enqueue(ctx context.Context, c DeferredCall) error {
	if c.TenantID == "" || c.Kind == "" {
		return ErrInvalidCall
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.EnqueuedAt.IsZero() {
		c.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, c)
	return nil
}

func (q *MemoryQueue) DequeueBatch(ctx context.Context, now time.Time, limit int) ([]DeferredCall, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sort.SliceStable(q.calls, func(i, j int) bool {
		return q.calls[i].EnqueuedAt.Before(q.calls[j].EnqueuedAt)
	})
	var out []DeferredCall
	for _, c := range q.calls {
		if len(out) >= limit {
			break
		}
		if c.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.calls {
		if c.ID == id {
			q.calls = append(q.calls[:i], q.calls[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (q *MemoryQueue) RequeueWithBackoff(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.calls {
		if q.calls[i].ID == id {
			q.calls[i].Attempts = attempts
			q.calls[i].NextAttemptAt = nextAttemptAt
			return nil
		}
	}
	return ErrNotFound
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.calls)), nil
}

// Calls returns a snapshot in enqueue order.
func (q *MemoryQueue) Calls() []DeferredCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeferredCall, len(q.calls))
	copy(out, q.calls)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}
