package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"gramflow/internal/audit"
	"gramflow/internal/instagram"
	"gramflow/internal/queue"
	"gramflow/internal/ratelimit"
	"gramflow/internal/subscription"
)

type stubAutomations struct {
	mu        sync.Mutex
	comments  []CommentEvent
	messages  []MessageEvent
	postbacks []PostbackEvent
}

func (s *stubAutomations) HandleComment(ctx context.Context, acct instagram.Account, ev CommentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, ev)
	return nil
}

func (s *stubAutomations) HandleMessage(ctx context.Context, acct instagram.Account, ev MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, ev)
	return nil
}

func (s *stubAutomations) HandlePostback(ctx context.Context, acct instagram.Account, ev PostbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postbacks = append(s.postbacks, ev)
	return nil
}

type dispatchFixture struct {
	dispatcher  *Dispatcher
	automations *stubAutomations
	queue       *queue.MemoryQueue
	ledger      *ratelimit.MemoryLedger
	admission   *ratelimit.Service
}

func newDispatchFixture(t *testing.T, limits ratelimit.Limits) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		automations: &stubAutomations{},
		queue:       queue.NewMemoryQueue(),
		ledger:      ratelimit.NewMemoryLedger(),
	}
	resolver := ratelimit.NewTierResolver(subscription.NewMemoryStore())
	f.admission = ratelimit.NewService(
		f.ledger, resolver, f.queue,
		audit.NewService(audit.NewMemoryRepo(), nil),
		nil, nil, limits,
	)

	directory := instagram.NewMemoryDirectory()
	directory.Put(instagram.Account{ID: "acct-1", TenantID: "t1", Username: "brand", IsActive: true})

	f.dispatcher = NewDispatcher(f.admission, directory, f.automations, nil, nil, 1)
	return f
}

func TestDispatcher_CommentAdmittedRunsAutomation(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	res, err := f.dispatcher.ProcessPayload(context.Background(), []byte(commentDelivery))
	if err != nil {
		t.Fatalf("ProcessPayload: %v", err)
	}
	if res.Processed != 1 || res.Queued != 0 || res.Errors != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(f.automations.comments) != 1 || f.automations.comments[0].CommentID != "cmt-1" {
		t.Fatalf("automation not invoked: %+v", f.automations.comments)
	}
}

func TestDispatcher_CommentDeniedIsQueuedNotRun(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 0, ProPerHour: 50})

	res, err := f.dispatcher.ProcessPayload(context.Background(), []byte(commentDelivery))
	if err != nil {
		t.Fatalf("ProcessPayload: %v", err)
	}
	if res.Queued != 1 || res.Processed != 0 {
		t.Fatalf("result = %+v, want 1 queued", res)
	}
	if len(f.automations.comments) != 0 {
		t.Fatalf("denied comment must not run automation")
	}
	size, _ := f.queue.Size(context.Background())
	if size != 1 {
		t.Fatalf("queue size = %d, want 1", size)
	}
}

func TestDispatcher_ContinuationsBypassAdmission(t *testing.T) {
	// Zero budget everywhere; messages and postbacks still go through.
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 0, FreePerHour: 0, ProPerHour: 0})

	res, err := f.dispatcher.ProcessPayload(context.Background(), []byte(messagingDelivery))
	if err != nil {
		t.Fatalf("ProcessPayload: %v", err)
	}
	f.dispatcher.Wait()

	if res.Processed != 2 {
		t.Fatalf("result = %+v, want 2 processed", res)
	}
	f.automations.mu.Lock()
	defer f.automations.mu.Unlock()
	if len(f.automations.messages) != 1 || len(f.automations.postbacks) != 1 {
		t.Fatalf("continuations not dispatched: %d messages, %d postbacks",
			len(f.automations.messages), len(f.automations.postbacks))
	}
	size, _ := f.queue.Size(context.Background())
	if size != 0 {
		t.Fatalf("continuations must never be queued")
	}
}

func TestDispatcher_UnknownAccountIsError(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	raw := `{"object":"instagram","entry":[{"id":"acct-unknown","changes":[
	  {"field":"comments","value":{"id":"cmt-9"}}]}]}`
	res, err := f.dispatcher.ProcessPayload(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("ProcessPayload: %v", err)
	}
	if res.Errors != 1 || res.Processed != 0 {
		t.Fatalf("result = %+v, want 1 error", res)
	}
}

func TestDispatcher_ReplayAdmitsAndRuns(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	ev := Event{Kind: EventKindComment, Comment: &CommentEvent{
		AccountID: "acct-1",
		CommentID: "cmt-old",
		Timestamp: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}}
	payload, _ := json.Marshal(ev)

	admitted, err := f.dispatcher.ReplayCall(context.Background(), queue.DeferredCall{
		ID:       "dc-1",
		TenantID: "t1",
		Kind:     queue.KindIncomingWebhook,
		Payload:  payload,
	})
	if err != nil {
		t.Fatalf("ReplayCall: %v", err)
	}
	if !admitted {
		t.Fatalf("expected replay admit")
	}
	if len(f.automations.comments) != 1 || f.automations.comments[0].CommentID != "cmt-old" {
		t.Fatalf("replayed automation not invoked")
	}
}

func TestDispatcher_ReplayDenialDoesNotReenqueue(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 0, ProPerHour: 50})

	payload, _ := json.Marshal(Event{Kind: EventKindComment, Comment: &CommentEvent{AccountID: "acct-1", CommentID: "c"}})
	admitted, err := f.dispatcher.ReplayCall(context.Background(), queue.DeferredCall{
		ID: "dc-1", TenantID: "t1", Kind: queue.KindIncomingWebhook, Payload: payload,
	})
	if err != nil {
		t.Fatalf("ReplayCall: %v", err)
	}
	if admitted {
		t.Fatalf("expected replay denial")
	}
	size, _ := f.queue.Size(context.Background())
	if size != 0 {
		t.Fatalf("replay denial re-enqueued the call")
	}
}

func TestDispatcher_ReplayRejectsNonComment(t *testing.T) {
	f := newDispatchFixture(t, ratelimit.Limits{GlobalPerHour: 100, FreePerHour: 10, ProPerHour: 50})

	payload, _ := json.Marshal(Event{Kind: EventKindMessage, Message: &MessageEvent{AccountID: "acct-1"}})
	if _, err := f.dispatcher.ReplayCall(context.Background(), queue.DeferredCall{
		ID: "dc-1", TenantID: "t1", Kind: queue.KindIncomingWebhook, Payload: payload,
	}); err == nil {
		t.Fatalf("expected error for non-comment deferred call")
	}
}
