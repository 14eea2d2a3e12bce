package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gramflow/pkg/storage"
)

// PostgresLedger is the durable fallback Ledger.
//
// Assumed tables:
//   rate_windows(window_start PK, window_end, global_calls_made,
//                global_call_limit, status, distinct_accounts,
//                free_tier_tenants, pro_tier_tenants, created_at, updated_at)
//   rate_window_tenants(window_start, tenant_id, calls_made, last_call_at,
//                       PRIMARY KEY (window_start, tenant_id))
//   rate_window_accounts(window_start, account_id, calls_made, last_call_at,
//                        PRIMARY KEY (window_start, account_id))
//
// Atomicity relies on single-statement conditional upserts
// (INSERT ... ON CONFLICT DO UPDATE ... WHERE ... RETURNING), the same
// discipline the billing projections use. No FOR UPDATE is needed on the
// hot path because each counter change is one statement.
type PostgresLedger struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, clock: time.Now}
}

func (l *PostgresLedger) TryIncrGlobal(ctx context.Context, w Window, n, limit int64) (int64, bool, error) {
	if n > limit {
		total, err := l.GlobalTotal(ctx, w)
		return total, false, err
	}

	const q = `
INSERT INTO rate_windows (window_start, window_end, global_calls_made, global_call_limit, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (window_start) DO UPDATE
SET global_calls_made = rate_windows.global_calls_made + $3,
    global_call_limit = $4,
    updated_at = $6
WHERE rate_windows.global_calls_made + $3 <= $4
RETURNING global_calls_made
`
	now := l.clock().UTC()
	var total int64
	err := l.db.QueryRowContext(ctx, q, w.Start, w.End, n, limit, string(WindowStatusActive), now).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Reserve rejected; report the standing total.
			total, rerr := l.GlobalTotal(ctx, w)
			return total, false, rerr
		}
		return 0, false, fmt.Errorf("postgres ledger: try incr global: %w", err)
	}
	return total, true, nil
}

func (l *PostgresLedger) TryIncrTenant(ctx context.Context, w Window, tenantID string, n, limit int64) (int64, bool, error) {
	if n > limit {
		total, err := l.TenantTotal(ctx, w, tenantID)
		return total, false, err
	}

	const q = `
INSERT INTO rate_window_tenants (window_start, tenant_id, calls_made, last_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (window_start, tenant_id) DO UPDATE
SET calls_made = rate_window_tenants.calls_made + $3,
    last_call_at = $4
WHERE rate_window_tenants.calls_made + $3 <= $5
RETURNING calls_made
`
	now := l.clock().UTC()
	var total int64
	err := l.db.QueryRowContext(ctx, q, w.Start, tenantID, n, now, limit).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			total, rerr := l.TenantTotal(ctx, w, tenantID)
			return total, false, rerr
		}
		return 0, false, fmt.Errorf("postgres ledger: try incr tenant: %w", err)
	}
	return total, true, nil
}

func (l *PostgresLedger) IncrGlobal(ctx context.Context, w Window, n int64) (int64, error) {
	const q = `
INSERT INTO rate_windows (window_start, window_end, global_calls_made, global_call_limit, status, created_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $5, $5)
ON CONFLICT (window_start) DO UPDATE
SET global_calls_made = rate_windows.global_calls_made + $3,
    updated_at = $5
RETURNING global_calls_made
`
	now := l.clock().UTC()
	var total int64
	if err := l.db.QueryRowContext(ctx, q, w.Start, w.End, n, string(WindowStatusActive), now).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres ledger: incr global: %w", err)
	}
	return total, nil
}

func (l *PostgresLedger) IncrAccount(ctx context.Context, w Window, accountID string, n int64) (int64, error) {
	const q = `
INSERT INTO rate_window_accounts (window_start, account_id, calls_made, last_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (window_start, account_id) DO UPDATE
SET calls_made = rate_window_accounts.calls_made + $3,
    last_call_at = $4
RETURNING calls_made
`
	now := l.clock().UTC()
	var total int64
	if err := l.db.QueryRowContext(ctx, q, w.Start, accountID, n, now).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres ledger: incr account: %w", err)
	}
	return total, nil
}

func (l *PostgresLedger) GlobalTotal(ctx context.Context, w Window) (int64, error) {
	const q = `SELECT global_calls_made FROM rate_windows WHERE window_start = $1`
	var total int64
	err := l.db.QueryRowContext(ctx, q, w.Start).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres ledger: read global: %w", err)
	}
	return total, nil
}

func (l *PostgresLedger) TenantTotal(ctx context.Context, w Window, tenantID string) (int64, error) {
	const q = `SELECT calls_made FROM rate_window_tenants WHERE window_start = $1 AND tenant_id = $2`
	var total int64
	err := l.db.QueryRowContext(ctx, q, w.Start, tenantID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres ledger: read tenant: %w", err)
	}
	return total, nil
}

func (l *PostgresLedger) AccountTotal(ctx context.Context, w Window, accountID string) (int64, error) {
	const q = `SELECT calls_made FROM rate_window_accounts WHERE window_start = $1 AND account_id = $2`
	var total int64
	err := l.db.QueryRowContext(ctx, q, w.Start, accountID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres ledger: read account: %w", err)
	}
	return total, nil
}

// ClaimArchive closes out a window row. The status guard makes the claim
// exclusive; counter columns merge with GREATEST because the durable rows may
// lag the fast store when it carried the traffic.
func (l *PostgresLedger) ClaimArchive(ctx context.Context, w Window, s ArchiveSummary) (bool, error) {
	now := l.clock().UTC()
	claimed := false

	err := storage.WithTx(ctx, l.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const claim = `
INSERT INTO rate_windows (window_start, window_end, global_calls_made, global_call_limit, status, distinct_accounts, free_tier_tenants, pro_tier_tenants, created_at, updated_at)
VALUES ($1, $2, $3, 0, $8, $4, $5, $6, $7, $7)
ON CONFLICT (window_start) DO UPDATE
SET status = $8,
    global_calls_made = GREATEST(rate_windows.global_calls_made, $3),
    distinct_accounts = $4,
    free_tier_tenants = $5,
    pro_tier_tenants = $6,
    updated_at = $7
WHERE rate_windows.status <> $8
RETURNING window_start
`
		var start time.Time
		err := tx.QueryRowContext(ctx, claim, w.Start, w.End, s.Totals.Global, s.DistinctAccounts, s.FreeTierTenants, s.ProTierTenants, now, string(WindowStatusArchived)).Scan(&start)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("claim archive: %w", err)
		}
		claimed = true

		const mergeTenant = `
INSERT INTO rate_window_tenants (window_start, tenant_id, calls_made, last_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (window_start, tenant_id) DO UPDATE
SET calls_made = GREATEST(rate_window_tenants.calls_made, $3)
`
		for tenantID, n := range s.Totals.Tenants {
			if _, err := tx.ExecContext(ctx, mergeTenant, w.Start, tenantID, n, now); err != nil {
				return fmt.Errorf("merge tenant totals: %w", err)
			}
		}

		const mergeAccount = `
INSERT INTO rate_window_accounts (window_start, account_id, calls_made, last_call_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (window_start, account_id) DO UPDATE
SET calls_made = GREATEST(rate_window_accounts.calls_made, $3)
`
		for accountID, n := range s.Totals.Accounts {
			if _, err := tx.ExecContext(ctx, mergeAccount, w.Start, accountID, n, now); err != nil {
				return fmt.Errorf("merge account totals: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("postgres ledger: %w", err)
	}
	return claimed, nil
}

func (l *PostgresLedger) WindowTotals(ctx context.Context, w Window) (WindowTotals, error) {
	out := WindowTotals{Tenants: map[string]int64{}, Accounts: map[string]int64{}}

	global, err := l.GlobalTotal(ctx, w)
	if err != nil {
		return WindowTotals{}, err
	}
	out.Global = global

	const qt = `SELECT tenant_id, calls_made FROM rate_window_tenants WHERE window_start = $1`
	rows, err := l.db.QueryContext(ctx, qt, w.Start)
	if err != nil {
		return WindowTotals{}, fmt.Errorf("postgres ledger: read tenants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return WindowTotals{}, err
		}
		out.Tenants[id] = n
	}
	if err := rows.Err(); err != nil {
		return WindowTotals{}, err
	}

	const qa = `SELECT account_id, calls_made FROM rate_window_accounts WHERE window_start = $1`
	arows, err := l.db.QueryContext(ctx, qa, w.Start)
	if err != nil {
		return WindowTotals{}, fmt.Errorf("postgres ledger: read accounts: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var id string
		var n int64
		if err := arows.Scan(&id, &n); err != nil {
			return WindowTotals{}, err
		}
		out.Accounts[id] = n
	}
	if err := arows.Err(); err != nil {
		return WindowTotals{}, err
	}

	return out, nil
}
