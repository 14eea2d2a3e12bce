package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/metrics"
	"gramflow/internal/queue"
)

// Limits holds the hourly call ceilings. All three are required; the service
// never substitutes an unlimited default.
type Limits struct {
	GlobalPerHour int64
	FreePerHour   int64
	ProPerHour    int64
}

func (l Limits) forTier(t Tier) int64 {
	if t == TierPro {
		return l.ProPerHour
	}
	return l.FreePerHour
}

// CallRequest describes a batch of Meta API calls to charge against the
// current window. Calls is all-or-nothing: a batch of 5 with 3 remaining is
// denied whole, never split.
type CallRequest struct {
	TenantID        string
	AccountID       string
	Calls           int64
	IncomingWebhook bool
	Payload         json.RawMessage
}

// Decision is the outcome of an admission attempt.
type Decision struct {
	Allowed     bool
	Queued      bool
	Scope       string
	Reason      string
	Window      Window
	Tier        Tier
	GlobalTotal int64
	TenantTotal int64
}

// UsageStats is the per-tenant view of the current window.
type UsageStats struct {
	Window      Window `json:"window"`
	Tier        Tier   `json:"tier"`
	Limit       int64  `json:"limit"`
	Used        int64  `json:"used"`
	Remaining   int64  `json:"remaining"`
	GlobalLimit int64  `json:"global_limit"`
	GlobalUsed  int64  `json:"global_used"`
	AppLimited  bool   `json:"app_limited"`
}

// Service admits or denies Meta API calls against the shared hourly window.
// Denied incoming webhooks are parked on the deferred queue; denied outbound
// automation is dropped. When the ledger cannot answer, the service denies.
type Service struct {
	ledger  Ledger
	tiers   TierResolver
	queue   queue.Queue
	auditor *audit.Service
	metrics *metrics.Metrics
	log     *slog.Logger
	limits  Limits
	clock   func() time.Time
}

func NewService(ledger Ledger, tiers TierResolver, q queue.Queue, auditor *audit.Service, m *metrics.Metrics, log *slog.Logger, limits Limits) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger:  ledger,
		tiers:   tiers,
		queue:   q,
		auditor: auditor,
		metrics: m,
		log:     log,
		limits:  limits,
		clock:   time.Now,
	}
}

// GetCurrentWindow returns the active window.
func (s *Service) GetCurrentWindow() Window {
	return CurrentWindow(s.clock())
}

// IsAppLimitReached reports whether the app-wide ceiling is already spent.
// A ledger failure reads as limited.
func (s *Service) IsAppLimitReached(ctx context.Context) (bool, error) {
	w := CurrentWindow(s.clock())
	total, err := s.ledger.GlobalTotal(ctx, w)
	if err != nil {
		return true, err
	}
	return total >= s.limits.GlobalPerHour, nil
}

// CanMakeCall is a pure probe. It reads the standing totals without charging
// anything, so a true answer can still lose the race to a concurrent
// RecordCall. Callers that need the charge use RecordCall directly.
func (s *Service) CanMakeCall(ctx context.Context, tenantID string, calls int64) (bool, error) {
	if tenantID == "" || calls <= 0 {
		return false, ErrInvalidArgument
	}
	w := CurrentWindow(s.clock())

	global, err := s.ledger.GlobalTotal(ctx, w)
	if err != nil {
		return false, err
	}
	if global+calls > s.limits.GlobalPerHour {
		return false, nil
	}

	tier := s.resolveTier(ctx, tenantID)
	used, err := s.ledger.TenantTotal(ctx, w, tenantID)
	if err != nil {
		return false, err
	}
	return used+calls <= s.limits.forTier(tier), nil
}

// RecordCall charges req.Calls against the window, or denies the whole batch.
// A denied incoming webhook is enqueued for replay.
func (s *Service) RecordCall(ctx context.Context, req CallRequest) (Decision, error) {
	return s.recordCall(ctx, req, false)
}

// RecordReplay is RecordCall for the replay path. A denial here never
// re-enqueues; the replayer keeps the call's original queue slot.
func (s *Service) RecordReplay(ctx context.Context, req CallRequest) (Decision, error) {
	return s.recordCall(ctx, req, true)
}

func (s *Service) recordCall(ctx context.Context, req CallRequest, replay bool) (Decision, error) {
	if req.TenantID == "" || req.Calls <= 0 {
		return Decision{}, ErrInvalidArgument
	}
	w := CurrentWindow(s.clock())
	d := Decision{Window: w}

	gTotal, ok, err := s.ledger.TryIncrGlobal(ctx, w, req.Calls, s.limits.GlobalPerHour)
	if err != nil {
		return s.deny(ctx, req, d, metrics.ScopeLedger, "ledger unavailable", replay), err
	}
	d.GlobalTotal = gTotal
	if !ok {
		return s.deny(ctx, req, d, metrics.ScopeGlobal, "app hourly limit reached", replay), nil
	}

	tier := s.resolveTier(ctx, req.TenantID)
	d.Tier = tier

	tTotal, ok, err := s.ledger.TryIncrTenant(ctx, w, req.TenantID, req.Calls, s.limits.forTier(tier))
	if err != nil {
		s.compensateGlobal(ctx, w, req.Calls)
		return s.deny(ctx, req, d, metrics.ScopeLedger, "ledger unavailable", replay), err
	}
	if !ok {
		s.compensateGlobal(ctx, w, req.Calls)
		d.TenantTotal = tTotal
		return s.deny(ctx, req, d, metrics.ScopeTenant, "tenant hourly limit reached", replay), nil
	}
	d.TenantTotal = tTotal

	if req.AccountID != "" {
		if _, err := s.ledger.IncrAccount(ctx, w, req.AccountID, req.Calls); err != nil {
			s.log.Warn("account counter increment failed", "account_id", req.AccountID, "error", err)
		}
	}

	s.auditor.Trace(ctx, audit.Record{
		TenantID:        req.TenantID,
		AccountID:       req.AccountID,
		Type:            audit.RecordTypeCallAdmitted,
		WindowKey:       w.Key,
		CallCount:       req.Calls,
		IncomingWebhook: req.IncomingWebhook,
		Metadata:        decisionMetadata(d),
	})
	if s.metrics != nil {
		s.metrics.AdmissionDecisions.WithLabelValues(metrics.OutcomeAdmitted, metrics.ScopeGlobal).Inc()
		s.metrics.CallsRecorded.WithLabelValues(string(tier)).Add(float64(req.Calls))
	}

	d.Allowed = true
	return d, nil
}

// deny finalizes a denial. Incoming webhooks are parked for replay unless this
// is already the replay path; outbound automation is dropped on the floor.
func (s *Service) deny(ctx context.Context, req CallRequest, d Decision, scope, reason string, replay bool) Decision {
	d.Allowed = false
	d.Scope = scope
	d.Reason = reason

	recType := audit.RecordTypeCallDenied
	outcome := metrics.OutcomeDenied

	if req.IncomingWebhook && !replay {
		err := s.queue.Enqueue(ctx, queue.DeferredCall{
			TenantID:   req.TenantID,
			AccountID:  req.AccountID,
			Kind:       queue.KindIncomingWebhook,
			Payload:    req.Payload,
			EnqueuedAt: s.clock().UTC(),
		})
		if err != nil {
			s.log.Error("enqueue deferred call", "tenant_id", req.TenantID, "error", err)
		} else {
			d.Queued = true
			recType = audit.RecordTypeCallQueued
			outcome = metrics.OutcomeQueued
		}
	} else if !req.IncomingWebhook {
		recType = audit.RecordTypeCallDropped
		outcome = metrics.OutcomeDropped
	}

	s.auditor.Trace(ctx, audit.Record{
		TenantID:        req.TenantID,
		AccountID:       req.AccountID,
		Type:            recType,
		WindowKey:       d.Window.Key,
		CallCount:       req.Calls,
		IncomingWebhook: req.IncomingWebhook,
		Reason:          reason,
		Metadata:        decisionMetadata(d),
	})
	if s.metrics != nil {
		s.metrics.AdmissionDecisions.WithLabelValues(outcome, scope).Inc()
	}
	return d
}

// decisionMetadata folds the decision details into the audit record's JSON
// blob so denials can be diagnosed without correlating ledger rows.
func decisionMetadata(d Decision) string {
	b, err := json.Marshal(struct {
		Tier        Tier   `json:"tier,omitempty"`
		Scope       string `json:"scope,omitempty"`
		GlobalTotal int64  `json:"global_total"`
		TenantTotal int64  `json:"tenant_total"`
	}{d.Tier, d.Scope, d.GlobalTotal, d.TenantTotal})
	if err != nil {
		return ""
	}
	return string(b)
}

// compensateGlobal walks back a global reservation whose tenant-level charge
// did not go through. Best effort; a stuck compensation only over-counts the
// shared pool until rollover.
func (s *Service) compensateGlobal(ctx context.Context, w Window, n int64) {
	if _, err := s.ledger.IncrGlobal(ctx, w, -n); err != nil {
		s.log.Error("global counter compensation failed", "window", w.Key, "calls", n, "error", err)
	}
}

// resolveTier defaults to free when the subscription store cannot answer.
// Free is the tighter limit, so an outage can only under-admit.
func (s *Service) resolveTier(ctx context.Context, tenantID string) Tier {
	tier, err := s.tiers.Resolve(ctx, tenantID)
	if err != nil {
		s.log.Warn("tier resolution failed, assuming free", "tenant_id", tenantID, "error", err)
		return TierFree
	}
	return tier
}

// UserStats reports the tenant's standing in the current window.
func (s *Service) UserStats(ctx context.Context, tenantID string) (UsageStats, error) {
	if tenantID == "" {
		return UsageStats{}, ErrInvalidArgument
	}
	w := CurrentWindow(s.clock())

	tier := s.resolveTier(ctx, tenantID)
	limit := s.limits.forTier(tier)

	used, err := s.ledger.TenantTotal(ctx, w, tenantID)
	if err != nil {
		return UsageStats{}, err
	}
	global, err := s.ledger.GlobalTotal(ctx, w)
	if err != nil {
		return UsageStats{}, err
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return UsageStats{
		Window:      w,
		Tier:        tier,
		Limit:       limit,
		Used:        used,
		Remaining:   remaining,
		GlobalLimit: s.limits.GlobalPerHour,
		GlobalUsed:  global,
		AppLimited:  global >= s.limits.GlobalPerHour,
	}, nil
}
