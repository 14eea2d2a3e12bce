package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/queue"
	"gramflow/internal/subscription"
)

type admissionFixture struct {
	svc    *Service
	ledger *MemoryLedger
	queue  *queue.MemoryQueue
	audit  *audit.MemoryRepo
	store  *subscription.MemoryStore
	now    time.Time
}

func newAdmissionFixture(t *testing.T, limits Limits) *admissionFixture {
	t.Helper()
	f := &admissionFixture{
		ledger: NewMemoryLedger(),
		queue:  queue.NewMemoryQueue(),
		audit:  audit.NewMemoryRepo(),
		store:  subscription.NewMemoryStore(),
		now:    time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
	}
	resolver := NewTierResolver(f.store)
	resolver.clock = func() time.Time { return f.now }
	f.svc = NewService(f.ledger, resolver, f.queue, audit.NewService(f.audit, nil), nil, nil, limits)
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *admissionFixture) makePro(t *testing.T, tenantID string) {
	t.Helper()
	f.store.Put(subscription.Subscription{
		ID:               "sub-" + tenantID,
		TenantID:         tenantID,
		ProductLine:      subscription.ProductLineInstagram,
		Plan:             subscription.PlanPro,
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: f.now.Add(30 * 24 * time.Hour),
	})
}

func TestRecordCall_AdmitsWithinLimits(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", AccountID: "a1", Calls: 3})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected admit, got %+v", d)
	}
	if d.GlobalTotal != 3 || d.TenantTotal != 3 {
		t.Fatalf("totals = %d/%d, want 3/3", d.GlobalTotal, d.TenantTotal)
	}
	if got := len(f.audit.ByType(audit.RecordTypeCallAdmitted)); got != 1 {
		t.Fatalf("call_admitted records = %d, want 1", got)
	}
}

func TestRecordCall_AuditMetadataCarriesDecisionDetails(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 2, ProPerHour: 50})

	if d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 2}); err != nil || !d.Allowed {
		t.Fatalf("setup call not admitted: %+v err=%v", d, err)
	}
	if d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); err != nil || d.Allowed {
		t.Fatalf("second call should be denied: %+v err=%v", d, err)
	}

	var meta struct {
		Tier        string `json:"tier"`
		Scope       string `json:"scope"`
		GlobalTotal int64  `json:"global_total"`
		TenantTotal int64  `json:"tenant_total"`
	}

	admitted := f.audit.ByType(audit.RecordTypeCallAdmitted)
	if len(admitted) != 1 {
		t.Fatalf("call_admitted records = %d, want 1", len(admitted))
	}
	if err := json.Unmarshal([]byte(admitted[0].Metadata), &meta); err != nil {
		t.Fatalf("admitted metadata %q: %v", admitted[0].Metadata, err)
	}
	if meta.Tier != string(TierFree) || meta.GlobalTotal != 2 || meta.TenantTotal != 2 {
		t.Fatalf("admitted metadata = %+v, want free tier with totals 2/2", meta)
	}

	dropped := f.audit.ByType(audit.RecordTypeCallDropped)
	if len(dropped) != 1 {
		t.Fatalf("call_dropped records = %d, want 1", len(dropped))
	}
	if err := json.Unmarshal([]byte(dropped[0].Metadata), &meta); err != nil {
		t.Fatalf("dropped metadata %q: %v", dropped[0].Metadata, err)
	}
	if meta.Scope != "tenant" {
		t.Fatalf("dropped metadata scope = %q, want tenant", meta.Scope)
	}
}

func TestRecordCall_InclusiveLimitBoundary(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	// The call that lands exactly on the limit is admitted.
	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 10})
	if err != nil || !d.Allowed {
		t.Fatalf("call landing on limit should be admitted, got %+v err=%v", d, err)
	}

	// The next one, even a single call, is denied.
	d, err = f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if d.Allowed {
		t.Fatalf("call past limit should be denied")
	}
	if d.Scope != "tenant" {
		t.Fatalf("scope = %q, want tenant", d.Scope)
	}
}

func TestRecordCall_BatchIsAllOrNothing(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 8}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	// 3 more would exceed 10; nothing is charged.
	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 3})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected whole-batch denial")
	}
	used, _ := f.ledger.TenantTotal(context.Background(), f.svc.GetCurrentWindow(), "t1")
	if used != 8 {
		t.Fatalf("tenant total = %d, want 8 (no partial charge)", used)
	}
	global, _ := f.ledger.GlobalTotal(context.Background(), f.svc.GetCurrentWindow())
	if global != 8 {
		t.Fatalf("global total = %d, want 8 (compensated)", global)
	}
}

func TestRecordCall_ProTierGetsHigherLimit(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})
	f.makePro(t, "t1")

	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 30})
	if err != nil || !d.Allowed {
		t.Fatalf("pro batch of 30 should be admitted, got %+v err=%v", d, err)
	}
	if d.Tier != TierPro {
		t.Fatalf("tier = %v, want pro", d.Tier)
	}
}

func TestRecordCall_GlobalLimitDeniesEveryTenant(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 10, FreePerHour: 10, ProPerHour: 50})
	f.makePro(t, "t2")

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 10}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	// Pro tenant has personal budget but the shared pool is spent.
	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t2", Calls: 1})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected global denial")
	}
	if d.Scope != "global" {
		t.Fatalf("scope = %q, want global", d.Scope)
	}
}

func TestRecordCall_DeniedWebhookIsQueued(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 1, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	d, err := f.svc.RecordCall(context.Background(), CallRequest{
		TenantID:        "t1",
		AccountID:       "a1",
		Calls:           1,
		IncomingWebhook: true,
		Payload:         []byte(`{"comment_id":"c1"}`),
	})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if d.Allowed || !d.Queued {
		t.Fatalf("expected deny+queue, got %+v", d)
	}
	size, _ := f.queue.Size(context.Background())
	if size != 1 {
		t.Fatalf("queue size = %d, want 1", size)
	}
	if got := len(f.audit.ByType(audit.RecordTypeCallQueued)); got != 1 {
		t.Fatalf("call_queued records = %d, want 1", got)
	}
}

func TestRecordCall_DeniedAutomationIsDropped(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 1, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	if d.Allowed || d.Queued {
		t.Fatalf("outbound automation must be dropped, not queued: %+v", d)
	}
	size, _ := f.queue.Size(context.Background())
	if size != 0 {
		t.Fatalf("queue size = %d, want 0", size)
	}
	if got := len(f.audit.ByType(audit.RecordTypeCallDropped)); got != 1 {
		t.Fatalf("call_dropped records = %d, want 1", got)
	}
}

func TestRecordReplay_DenialDoesNotReenqueue(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 1, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	d, err := f.svc.RecordReplay(context.Background(), CallRequest{TenantID: "t1", Calls: 1, IncomingWebhook: true})
	if err != nil {
		t.Fatalf("RecordReplay: %v", err)
	}
	if d.Allowed || d.Queued {
		t.Fatalf("replay denial must not re-enqueue: %+v", d)
	}
	size, _ := f.queue.Size(context.Background())
	if size != 0 {
		t.Fatalf("queue size = %d, want 0", size)
	}
}

func TestRecordCall_LedgerOutageFailsSafe(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})
	f.ledger.FailAll = true

	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1, IncomingWebhook: true})
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if d.Allowed {
		t.Fatalf("outage must deny, never admit")
	}
	// The webhook is still preserved on the queue.
	if !d.Queued {
		t.Fatalf("deferrable call should be queued during outage")
	}
}

func TestRecordCall_Concurrency(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 1000, FreePerHour: 100, ProPerHour: 500})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 3})
			if err != nil {
				t.Errorf("RecordCall: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				admitted += 3
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	used, _ := f.ledger.TenantTotal(context.Background(), f.svc.GetCurrentWindow(), "t1")
	if used != admitted {
		t.Fatalf("tenant total %d does not match admitted %d", used, admitted)
	}
	if used > 100 {
		t.Fatalf("tenant total %d exceeds limit 100", used)
	}
	// 33 batches of 3 fit under 100; every batch either lands whole or not at all.
	if used != 99 {
		t.Fatalf("tenant total = %d, want 99", used)
	}
	global, _ := f.ledger.GlobalTotal(context.Background(), f.svc.GetCurrentWindow())
	if global != used {
		t.Fatalf("global total %d diverged from tenant total %d", global, used)
	}
}

func TestCanMakeCall_ProbeDoesNotCharge(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	ok, err := f.svc.CanMakeCall(context.Background(), "t1", 5)
	if err != nil || !ok {
		t.Fatalf("probe should pass, got ok=%v err=%v", ok, err)
	}
	used, _ := f.ledger.TenantTotal(context.Background(), f.svc.GetCurrentWindow(), "t1")
	if used != 0 {
		t.Fatalf("probe charged %d calls", used)
	}

	ok, err = f.svc.CanMakeCall(context.Background(), "t1", 11)
	if err != nil {
		t.Fatalf("CanMakeCall: %v", err)
	}
	if ok {
		t.Fatalf("probe past tenant limit should be false")
	}
}

func TestCanMakeCall_LedgerOutageFailsSafe(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})
	f.ledger.FailAll = true

	ok, err := f.svc.CanMakeCall(context.Background(), "t1", 1)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if ok {
		t.Fatalf("outage probe must answer false")
	}
}

func TestUserStats(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 4}); !d.Allowed {
		t.Fatalf("setup call denied")
	}

	st, err := f.svc.UserStats(context.Background(), "t1")
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if st.Used != 4 || st.Remaining != 6 || st.Limit != 10 {
		t.Fatalf("stats = %+v, want used 4 remaining 6 limit 10", st)
	}
	if st.GlobalUsed != 4 || st.AppLimited {
		t.Fatalf("global stats wrong: %+v", st)
	}
	if st.Window.Key != "2025-06-01T14" {
		t.Fatalf("window key = %q", st.Window.Key)
	}
}

func TestRecordCall_NewWindowResetsBudget(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 1, ProPerHour: 50})

	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); !d.Allowed {
		t.Fatalf("setup call denied")
	}
	if d, _ := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1}); d.Allowed {
		t.Fatalf("second call in the window should be denied")
	}

	f.now = f.now.Add(time.Hour)

	d, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 1})
	if err != nil || !d.Allowed {
		t.Fatalf("fresh window should admit, got %+v err=%v", d, err)
	}
}

func TestRecordCall_RejectsInvalidInput(t *testing.T) {
	f := newAdmissionFixture(t, Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	if _, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "", Calls: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty tenant, got %v", err)
	}
	if _, err := f.svc.RecordCall(context.Background(), CallRequest{TenantID: "t1", Calls: 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero calls, got %v", err)
	}
}
