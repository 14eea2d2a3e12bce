package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("queue: deferred call not found")
	ErrInvalidCall = errors.New("queue: invalid deferred call")
)

// Queue stores deferred calls in strict FIFO order by enqueue time.
// DequeueBatch only returns calls whose next_attempt_at has passed, so a
// backed-off call never jumps ahead of its own schedule.
type Queue interface {
	Enqueue(ctx context.Context, c DeferredCall) error
	DequeueBatch(ctx context.Context, now time.Time, limit int) ([]DeferredCall, error)
	Remove(ctx context.Context, id string) error
	RequeueWithBackoff(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error
	Size(ctx context.Context) (int64, error)
}
