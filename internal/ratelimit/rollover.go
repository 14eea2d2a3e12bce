package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/metrics"
)

// ArchiveSummary is the durable record of a closed window.
type ArchiveSummary struct {
	Totals           WindowTotals
	DistinctAccounts int64
	FreeTierTenants  int64
	ProTierTenants   int64
}

// Archiver persists a closed window exactly once. ClaimArchive returns false
// without error when the window was already archived, which makes the
// rollover job safe to run from overlapping tickers or multiple instances.
type Archiver interface {
	ClaimArchive(ctx context.Context, w Window, s ArchiveSummary) (bool, error)
}

// RolloverJob archives the previous window after the hour turns over.
// Live counters are never mutated; a window expires by key, so rollover is
// bookkeeping rather than a reset.
type RolloverJob struct {
	ledger   Ledger
	archiver Archiver
	tiers    TierResolver
	auditor  *audit.Service
	metrics  *metrics.Metrics
	log      *slog.Logger
	clock    func() time.Time
}

func NewRolloverJob(ledger Ledger, archiver Archiver, tiers TierResolver, auditor *audit.Service, m *metrics.Metrics, log *slog.Logger) *RolloverJob {
	if log == nil {
		log = slog.Default()
	}
	return &RolloverJob{
		ledger:   ledger,
		archiver: archiver,
		tiers:    tiers,
		auditor:  auditor,
		metrics:  m,
		log:      log,
		clock:    time.Now,
	}
}

// RolloverIfExpired archives the window that ended most recently. It returns
// true when this run performed the archive, false when another run already
// had.
func (j *RolloverJob) RolloverIfExpired(ctx context.Context) (bool, error) {
	prev := PreviousWindow(j.clock())

	totals, err := j.ledger.WindowTotals(ctx, prev)
	if err != nil {
		return false, err
	}

	summary := ArchiveSummary{
		Totals:           totals,
		DistinctAccounts: int64(len(totals.Accounts)),
	}
	for tenantID := range totals.Tenants {
		tier, err := j.tiers.Resolve(ctx, tenantID)
		if err != nil {
			j.log.Warn("tier resolution failed during rollover, counting as free", "tenant_id", tenantID, "error", err)
			tier = TierFree
		}
		if tier == TierPro {
			summary.ProTierTenants++
		} else {
			summary.FreeTierTenants++
		}
	}

	claimed, err := j.archiver.ClaimArchive(ctx, prev, summary)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	meta, _ := json.Marshal(struct {
		DistinctAccounts int64 `json:"distinct_accounts"`
		FreeTierTenants  int64 `json:"free_tier_tenants"`
		ProTierTenants   int64 `json:"pro_tier_tenants"`
	}{summary.DistinctAccounts, summary.FreeTierTenants, summary.ProTierTenants})
	j.auditor.Trace(ctx, audit.Record{
		Type:      audit.RecordTypeWindowRollover,
		WindowKey: prev.Key,
		CallCount: totals.Global,
		Metadata:  string(meta),
	})
	if j.metrics != nil {
		j.metrics.WindowRollovers.Inc()
	}
	j.log.Info("rate window archived",
		"window", prev.Key,
		"global_calls", totals.Global,
		"tenants", len(totals.Tenants),
		"accounts", summary.DistinctAccounts,
	)
	return true, nil
}
