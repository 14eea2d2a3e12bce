package ratelimit

import (
	"context"
	"sync"
)

// MemoryLedger is a mutex-guarded in-memory Ledger useful for tests.
// It is not intended for production use: counters die with the process.
type MemoryLedger struct {
	mu       sync.Mutex
	global   map[string]int64            // windowKey -> total
	tenants  map[string]map[string]int64 // windowKey -> tenantID -> total
	accounts map[string]map[string]int64 // windowKey -> accountID -> total

	// FailAll makes every call return ErrLedgerUnavailable; tests use it
	// to exercise the fail-safe admission path.
	FailAll bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		global:   make(map[string]int64),
		tenants:  make(map[string]map[string]int64),
		accounts: make(map[string]map[string]int64),
	}
}

func (l *MemoryLedger) TryIncrGlobal(ctx context.Context, w Window, n, limit int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, false, ErrLedgerUnavailable
	}
	cur := l.global[w.Key]
	if cur+n > limit {
		return cur, false, nil
	}
	l.global[w.Key] = cur + n
	return cur + n, true, nil
}

func (l *MemoryLedger) TryIncrTenant(ctx context.Context, w Window, tenantID string, n, limit int64) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, false, ErrLedgerUnavailable
	}
	m := l.tenants[w.Key]
	if m == nil {
		m = make(map[string]int64)
		l.tenants[w.Key] = m
	}
	cur := m[tenantID]
	if cur+n > limit {
		return cur, false, nil
	}
	m[tenantID] = cur + n
	return cur + n, true, nil
}

func (l *MemoryLedger) IncrGlobal(ctx context.Context, w Window, n int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, ErrLedgerUnavailable
	}
	l.global[w.Key] += n
	return l.global[w.Key], nil
}

func (l *MemoryLedger) IncrAccount(ctx context.Context, w Window, accountID string, n int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, ErrLedgerUnavailable
	}
	m := l.accounts[w.Key]
	if m == nil {
		m = make(map[string]int64)
		l.accounts[w.Key] = m
	}
	m[accountID] += n
	return m[accountID], nil
}

func (l *MemoryLedger) GlobalTotal(ctx context.Context, w Window) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, ErrLedgerUnavailable
	}
	return l.global[w.Key], nil
}

func (l *MemoryLedger) TenantTotal(ctx context.Context, w Window, tenantID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, ErrLedgerUnavailable
	}
	return l.tenants[w.Key][tenantID], nil
}

func (l *MemoryLedger) AccountTotal(ctx context.Context, w Window, accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return 0, ErrLedgerUnavailable
	}
	return l.accounts[w.Key][accountID], nil
}

func (l *MemoryLedger) WindowTotals(ctx context.Context, w Window) (WindowTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAll {
		return WindowTotals{}, ErrLedgerUnavailable
	}
	out := WindowTotals{
		Global:   l.global[w.Key],
		Tenants:  make(map[string]int64, len(l.tenants[w.Key])),
		Accounts: make(map[string]int64, len(l.accounts[w.Key])),
	}
	for k, v := range l.tenants[w.Key] {
		out.Tenants[k] = v
	}
	for k, v := range l.accounts[w.Key] {
		out.Accounts[k] = v
	}
	return out, nil
}
