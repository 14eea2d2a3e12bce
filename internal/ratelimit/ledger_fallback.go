package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackLedger composes the fast ledger with a durable one.
//
// Every operation tries the fast store first; on an infrastructure error it
// logs once and retries against the durable store. When both fail the call
// returns ErrLedgerUnavailable and admission fails toward denial; quota is
// never silently exceeded because a store was down.
//
// The two stores are not reconciled per call. The fast store is
// authoritative while healthy; the rollover job merges both sides when it
// archives a window.
type FallbackLedger struct {
	fast    Ledger
	durable Ledger
	log     *slog.Logger
}

func NewFallbackLedger(fast, durable Ledger, log *slog.Logger) *FallbackLedger {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackLedger{fast: fast, durable: durable, log: log}
}

func (l *FallbackLedger) TryIncrGlobal(ctx context.Context, w Window, n, limit int64) (int64, bool, error) {
	total, ok, err := l.fast.TryIncrGlobal(ctx, w, n, limit)
	if err == nil {
		return total, ok, nil
	}
	l.fell(ctx, "try_incr_global", err)
	total, ok, err = l.durable.TryIncrGlobal(ctx, w, n, limit)
	if err != nil {
		return 0, false, l.unavailable(err)
	}
	return total, ok, nil
}

func (l *FallbackLedger) TryIncrTenant(ctx context.Context, w Window, tenantID string, n, limit int64) (int64, bool, error) {
	total, ok, err := l.fast.TryIncrTenant(ctx, w, tenantID, n, limit)
	if err == nil {
		return total, ok, nil
	}
	l.fell(ctx, "try_incr_tenant", err)
	total, ok, err = l.durable.TryIncrTenant(ctx, w, tenantID, n, limit)
	if err != nil {
		return 0, false, l.unavailable(err)
	}
	return total, ok, nil
}

func (l *FallbackLedger) IncrGlobal(ctx context.Context, w Window, n int64) (int64, error) {
	total, err := l.fast.IncrGlobal(ctx, w, n)
	if err == nil {
		return total, nil
	}
	l.fell(ctx, "incr_global", err)
	total, err = l.durable.IncrGlobal(ctx, w, n)
	if err != nil {
		return 0, l.unavailable(err)
	}
	return total, nil
}

func (l *FallbackLedger) IncrAccount(ctx context.Context, w Window, accountID string, n int64) (int64, error) {
	total, err := l.fast.IncrAccount(ctx, w, accountID, n)
	if err == nil {
		return total, nil
	}
	l.fell(ctx, "incr_account", err)
	total, err = l.durable.IncrAccount(ctx, w, accountID, n)
	if err != nil {
		return 0, l.unavailable(err)
	}
	return total, nil
}

func (l *FallbackLedger) GlobalTotal(ctx context.Context, w Window) (int64, error) {
	total, err := l.fast.GlobalTotal(ctx, w)
	if err == nil {
		return total, nil
	}
	l.fell(ctx, "global_total", err)
	total, err = l.durable.GlobalTotal(ctx, w)
	if err != nil {
		return 0, l.unavailable(err)
	}
	return total, nil
}

func (l *FallbackLedger) TenantTotal(ctx context.Context, w Window, tenantID string) (int64, error) {
	total, err := l.fast.TenantTotal(ctx, w, tenantID)
	if err == nil {
		return total, nil
	}
	l.fell(ctx, "tenant_total", err)
	total, err = l.durable.TenantTotal(ctx, w, tenantID)
	if err != nil {
		return 0, l.unavailable(err)
	}
	return total, nil
}

func (l *FallbackLedger) AccountTotal(ctx context.Context, w Window, accountID string) (int64, error) {
	total, err := l.fast.AccountTotal(ctx, w, accountID)
	if err == nil {
		return total, nil
	}
	l.fell(ctx, "account_total", err)
	total, err = l.durable.AccountTotal(ctx, w, accountID)
	if err != nil {
		return 0, l.unavailable(err)
	}
	return total, nil
}

func (l *FallbackLedger) WindowTotals(ctx context.Context, w Window) (WindowTotals, error) {
	totals, err := l.fast.WindowTotals(ctx, w)
	if err == nil {
		return totals, nil
	}
	l.fell(ctx, "window_totals", err)
	totals, err = l.durable.WindowTotals(ctx, w)
	if err != nil {
		return WindowTotals{}, l.unavailable(err)
	}
	return totals, nil
}

func (l *FallbackLedger) fell(ctx context.Context, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	l.log.WarnContext(ctx, "fast ledger failed, using durable fallback", "op", op, "err", err)
}

func (l *FallbackLedger) unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
}
