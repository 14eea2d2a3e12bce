package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gramflow/internal/audit"
)

// Handler replays a single deferred call against the current window.
// admitted reports whether the call went through; a false result with a nil
// error means the limits still deny it and the call should wait.
type Handler interface {
	ReplayCall(ctx context.Context, c DeferredCall) (admitted bool, err error)
}

// Result summarizes one replay pass.
type Result struct {
	Processed   int
	StillQueued int
	Dropped     int
}

// Replayer drains the deferred call queue in FIFO order. Each pass replays at
// most a caller-supplied number of calls so a long backlog cannot consume the
// fresh window's budget on its own.
type Replayer struct {
	// passMu serializes passes. The replay ticker and the admin drain
	// endpoint share one Replayer, and DequeueBatch does not claim rows,
	// so overlapping passes would replay the same calls twice.
	passMu      sync.Mutex
	queue       Queue
	handler     Handler
	auditor     *audit.Service
	log         *slog.Logger
	clock       func() time.Time
	batchSize   int
	workers     int
	maxAttempts int
	backoffBase time.Duration
}

func NewReplayer(q Queue, h Handler, auditor *audit.Service, log *slog.Logger, batchSize, workers, maxAttempts int, backoffBase time.Duration) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Replayer{
		queue:       q,
		handler:     h,
		auditor:     auditor,
		log:         log,
		clock:       time.Now,
		batchSize:   batchSize,
		workers:     workers,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// ProcessQueuedCalls replays up to max deferred calls. It stops early when the
// queue runs dry or when a batch makes no progress, which happens once the
// window budget is exhausted again. Only one pass runs at a time; concurrent
// callers wait their turn.
func (r *Replayer) ProcessQueuedCalls(ctx context.Context, max int) (Result, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var res Result
	for res.Processed+res.StillQueued+res.Dropped < max {
		limit := r.batchSize
		if remaining := max - (res.Processed + res.StillQueued + res.Dropped); remaining < limit {
			limit = remaining
		}
		batch, err := r.queue.DequeueBatch(ctx, r.clock().UTC(), limit)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		var (
			mu       sync.Mutex
			batchRes Result
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for _, c := range batch {
			call := c
			g.Go(func() error {
				outcome := r.replayOne(gctx, call)
				mu.Lock()
				switch outcome {
				case replayAdmitted:
					batchRes.Processed++
				case replayDropped:
					batchRes.Dropped++
				default:
					batchRes.StillQueued++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, err
		}

		res.Processed += batchRes.Processed
		res.StillQueued += batchRes.StillQueued
		res.Dropped += batchRes.Dropped

		// A batch with zero admissions means the window is full again.
		if batchRes.Processed == 0 {
			break
		}
	}
	return res, nil
}

type replayOutcome int

const (
	replayAdmitted replayOutcome = iota
	replayDeferred
	replayDropped
)

func (r *Replayer) replayOne(ctx context.Context, c DeferredCall) replayOutcome {
	admitted, err := r.handler.ReplayCall(ctx, c)
	if err != nil {
		r.log.Warn("deferred call replay failed", "call_id", c.ID, "tenant_id", c.TenantID, "error", err)
	}
	if admitted {
		if err := r.queue.Remove(ctx, c.ID); err != nil {
			r.log.Error("remove replayed call", "call_id", c.ID, "error", err)
		}
		return replayAdmitted
	}

	attempts := c.Attempts + 1
	if attempts >= r.maxAttempts {
		if err := r.queue.Remove(ctx, c.ID); err != nil {
			r.log.Error("remove exhausted call", "call_id", c.ID, "error", err)
		}
		r.auditor.Trace(ctx, audit.Record{
			TenantID:        c.TenantID,
			AccountID:       c.AccountID,
			Type:            audit.RecordTypeCallDropped,
			CallCount:       1,
			IncomingWebhook: true,
			Reason:          "max replay attempts exceeded",
			Metadata:        fmt.Sprintf(`{"attempts":%d}`, attempts),
		})
		r.log.Warn("deferred call dropped", "call_id", c.ID, "tenant_id", c.TenantID, "attempts", attempts)
		return replayDropped
	}

	next := r.clock().UTC().Add(r.backoff(attempts))
	if err := r.queue.RequeueWithBackoff(ctx, c.ID, attempts, next); err != nil {
		r.log.Error("requeue deferred call", "call_id", c.ID, "error", err)
	}
	return replayDeferred
}

// backoff doubles per attempt from backoffBase, capped at one hour so a
// parked call is always retried within the next window.
func (r *Replayer) backoff(attempts int) time.Duration {
	d := r.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
