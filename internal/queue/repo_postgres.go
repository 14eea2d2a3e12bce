package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresQueue persists deferred calls in the deferred_calls table:
//
//	deferred_calls(id uuid pk, tenant_id text, account_id text, kind text,
//	               payload jsonb, enqueued_at timestamptz, attempts int,
//	               next_attempt_at timestamptz)
//
// The Replayer serializes its passes, so DequeueBatch does not lock rows.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue { return &PostgresQueue{db: db} }

func (q *PostgresQueue) Enqueue(ctx context.Context, c DeferredCall) error {
	if c.TenantID == "" || c.Kind == "" {
		return ErrInvalidCall
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.EnqueuedAt.IsZero() {
		c.EnqueuedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO deferred_calls (id, tenant_id, account_id, kind, payload, enqueued_at, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.AccountID, c.Kind, []byte(c.Payload), c.EnqueuedAt, c.Attempts, c.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue deferred call: %w", err)
	}
	return nil
}

func (q *PostgresQueue) DequeueBatch(ctx context.Context, now time.Time, limit int) ([]DeferredCall, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, account_id, kind, payload, enqueued_at, attempts, next_attempt_at
		FROM deferred_calls
		WHERE next_attempt_at <= $1
		ORDER BY enqueued_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue deferred calls: %w", err)
	}
	defer rows.Close()

	var out []DeferredCall
	for rows.Next() {
		var c DeferredCall
		var payload []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AccountID, &c.Kind, &payload, &c.EnqueuedAt, &c.Attempts, &c.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scan deferred call: %w", err)
		}
		c.Payload = payload
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM deferred_calls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove deferred call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) RequeueWithBackoff(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE deferred_calls SET attempts = $2, next_attempt_at = $3 WHERE id = $1`,
		id, attempts, nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("requeue deferred call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_calls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deferred calls: %w", err)
	}
	return n, nil
}
