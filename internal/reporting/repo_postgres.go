package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/ratelimit"
)

// PostgresRepo reads archived windows and call records.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListArchivedWindows(ctx context.Context, from, to time.Time) ([]ArchivedWindow, error) {
	const q = `
		SELECT window_start, window_end, global_calls_made, global_call_limit, distinct_accounts
		FROM rate_windows
		WHERE status = $1 AND window_start >= $2 AND window_start < $3
		ORDER BY window_start ASC`
	rows, err := r.db.QueryContext(ctx, q, string(ratelimit.WindowStatusArchived), from, to)
	if err != nil {
		return nil, fmt.Errorf("reporting: list archived windows: %w", err)
	}
	defer rows.Close()

	out := make([]ArchivedWindow, 0)
	for rows.Next() {
		var w ArchivedWindow
		if err := rows.Scan(&w.Start, &w.End, &w.GlobalCalls, &w.GlobalLimit, &w.DistinctAccounts); err != nil {
			return nil, err
		}
		w.Key = ratelimit.CurrentWindow(w.Start).Key
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListTenantUsage(ctx context.Context, tenantID string, from, to time.Time) ([]TenantWindowUsage, error) {
	const q = `
		SELECT t.window_start, t.calls_made
		FROM rate_window_tenants t
		JOIN rate_windows w ON w.window_start = t.window_start
		WHERE t.tenant_id = $1 AND w.status = $2
		  AND t.window_start >= $3 AND t.window_start < $4
		ORDER BY t.window_start ASC`
	rows, err := r.db.QueryContext(ctx, q, tenantID, string(ratelimit.WindowStatusArchived), from, to)
	if err != nil {
		return nil, fmt.Errorf("reporting: list tenant usage: %w", err)
	}
	defer rows.Close()

	out := make([]TenantWindowUsage, 0)
	for rows.Next() {
		var u TenantWindowUsage
		if err := rows.Scan(&u.WindowStart, &u.Calls); err != nil {
			return nil, err
		}
		u.WindowKey = ratelimit.CurrentWindow(u.WindowStart).Key
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountCallRecords(ctx context.Context, tenantID string, from, to time.Time, recordType audit.RecordType) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM call_records
		WHERE tenant_id = $1 AND type = $2 AND created_at >= $3 AND created_at < $4`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, tenantID, string(recordType), from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("reporting: count call records: %w", err)
	}
	return n, nil
}
