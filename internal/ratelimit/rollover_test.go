package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/subscription"
)

// memoryArchiver claims each window key at most once.
type memoryArchiver struct {
	mu       sync.Mutex
	archived map[string]ArchiveSummary
}

func newMemoryArchiver() *memoryArchiver {
	return &memoryArchiver{archived: make(map[string]ArchiveSummary)}
}

func (a *memoryArchiver) ClaimArchive(ctx context.Context, w Window, s ArchiveSummary) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.archived[w.Key]; ok {
		return false, nil
	}
	a.archived[w.Key] = s
	return true, nil
}

func TestRollover_ArchivesPreviousWindowOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	archiver := newMemoryArchiver()
	store := subscription.NewMemoryStore()
	repo := audit.NewMemoryRepo()

	now := time.Date(2025, 6, 1, 15, 5, 0, 0, time.UTC)
	prev := PreviousWindow(now)

	store.Put(subscription.Subscription{
		ID:               "s1",
		TenantID:         "pro-tenant",
		ProductLine:      subscription.ProductLineInstagram,
		Plan:             subscription.PlanPro,
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	})

	ctx := context.Background()
	if _, _, err := ledger.TryIncrGlobal(ctx, prev, 7, 100); err != nil {
		t.Fatalf("seed global: %v", err)
	}
	if _, _, err := ledger.TryIncrTenant(ctx, prev, "pro-tenant", 4, 50); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if _, _, err := ledger.TryIncrTenant(ctx, prev, "free-tenant", 3, 10); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if _, err := ledger.IncrAccount(ctx, prev, "acct-1", 5); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := ledger.IncrAccount(ctx, prev, "acct-2", 2); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	resolver := NewTierResolver(store)
	resolver.clock = func() time.Time { return now }

	job := NewRolloverJob(ledger, archiver, resolver, audit.NewService(repo, nil), nil, nil)
	job.clock = func() time.Time { return now }

	did, err := job.RolloverIfExpired(ctx)
	if err != nil {
		t.Fatalf("RolloverIfExpired: %v", err)
	}
	if !did {
		t.Fatalf("expected first run to archive")
	}

	s, ok := archiver.archived[prev.Key]
	if !ok {
		t.Fatalf("window %s not archived", prev.Key)
	}
	if s.Totals.Global != 7 {
		t.Fatalf("archived global = %d, want 7", s.Totals.Global)
	}
	if s.DistinctAccounts != 2 {
		t.Fatalf("distinct accounts = %d, want 2", s.DistinctAccounts)
	}
	if s.ProTierTenants != 1 || s.FreeTierTenants != 1 {
		t.Fatalf("tenant breakdown = pro %d free %d, want 1/1", s.ProTierTenants, s.FreeTierTenants)
	}
	if got := len(repo.ByType(audit.RecordTypeWindowRollover)); got != 1 {
		t.Fatalf("rollover audit records = %d, want 1", got)
	}

	// Second run is a no-op.
	did, err = job.RolloverIfExpired(ctx)
	if err != nil {
		t.Fatalf("second RolloverIfExpired: %v", err)
	}
	if did {
		t.Fatalf("second run must not archive again")
	}
	if got := len(repo.ByType(audit.RecordTypeWindowRollover)); got != 1 {
		t.Fatalf("rollover audit records after rerun = %d, want 1", got)
	}
}

func TestRollover_LeavesCurrentWindowAlone(t *testing.T) {
	ledger := NewMemoryLedger()
	archiver := newMemoryArchiver()

	now := time.Date(2025, 6, 1, 15, 5, 0, 0, time.UTC)
	cur := CurrentWindow(now)

	ctx := context.Background()
	if _, _, err := ledger.TryIncrGlobal(ctx, cur, 9, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resolver := NewTierResolver(subscription.NewMemoryStore())
	job := NewRolloverJob(ledger, archiver, resolver, audit.NewService(audit.NewMemoryRepo(), nil), nil, nil)
	job.clock = func() time.Time { return now }

	if _, err := job.RolloverIfExpired(ctx); err != nil {
		t.Fatalf("RolloverIfExpired: %v", err)
	}
	if _, ok := archiver.archived[cur.Key]; ok {
		t.Fatalf("current window must never be archived")
	}
	total, _ := ledger.GlobalTotal(ctx, cur)
	if total != 9 {
		t.Fatalf("live counter disturbed: %d", total)
	}
}
