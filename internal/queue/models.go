package queue

import (
	"encoding/json"
	"time"
)

// KindIncomingWebhook is the only deferrable call kind. Outbound automation
// is never queued; a denied outbound call is dropped at the admission point.
const KindIncomingWebhook = "incoming_webhook"

// DeferredCall is an incoming webhook that was denied admission and parked
// for replay once the rate window rolls over.
type DeferredCall struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	AccountID     string          `json:"account_id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
}
