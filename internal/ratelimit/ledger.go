package ratelimit

import (
	"context"
	"errors"
)

var (
	ErrInvalidArgument = errors.New("ratelimit: invalid argument")

	// ErrLedgerUnavailable means neither the fast store nor the durable
	// fallback could serve a counter operation. Admission treats this as
	// deny (and defer, for incoming webhooks), never as unlimited.
	ErrLedgerUnavailable = errors.New("ratelimit: ledger unavailable")
)

// Ledger holds the budget counters for rate-limit windows.
//
// All methods must be atomic with respect to concurrent callers. The
// conditional TryIncr* methods are the admission primitives: they reserve
// n units iff the post-increment total stays within limit (inclusive),
// and report the resulting total either way. This bounds overshoot without
// any external locking: a rejected reserve leaves the counter untouched.
//
// Counters are partitioned by window key, so a new hour starts from zero
// without explicit resets. Negative n on IncrGlobal releases a reservation
// (used to compensate a global reserve when the tenant check then fails).
type Ledger interface {
	TryIncrGlobal(ctx context.Context, w Window, n, limit int64) (total int64, ok bool, err error)
	TryIncrTenant(ctx context.Context, w Window, tenantID string, n, limit int64) (total int64, ok bool, err error)

	IncrGlobal(ctx context.Context, w Window, n int64) (int64, error)
	IncrAccount(ctx context.Context, w Window, accountID string, n int64) (int64, error)

	GlobalTotal(ctx context.Context, w Window) (int64, error)
	TenantTotal(ctx context.Context, w Window, tenantID string) (int64, error)
	AccountTotal(ctx context.Context, w Window, accountID string) (int64, error)

	// WindowTotals snapshots every counter of a window for archival.
	WindowTotals(ctx context.Context, w Window) (WindowTotals, error)
}

// WindowTotals is the archival snapshot of one window's counters.
type WindowTotals struct {
	Global   int64
	Tenants  map[string]int64
	Accounts map[string]int64
}
