package audit

import "time"

// Record is an immutable, append-only trail entry for an admission outcome.
//
// Invariants:
// - Records are never updated or deleted.
// - Every admitted call has a Record; denied/queued/dropped outcomes get one
//   too so that no traffic disappears without a trace.
// - Writing is best-effort: an audit failure must never reverse or block an
//   admission decision that was already made.
//
// Storage recommendation (Postgres): table call_records with an INSERT-only
// policy, partitioned by time for retention.
type Record struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// AccountID is the Instagram account the call was made for.
	AccountID string `json:"account_id,omitempty" db:"account_id"`

	Type RecordType `json:"type" db:"type"`

	// WindowKey partitions records by the accounting window they hit.
	WindowKey string `json:"window_key,omitempty" db:"window_key"`

	// CallCount is the number of Meta API units the request represented.
	CallCount int64 `json:"call_count,omitempty" db:"call_count"`

	// IncomingWebhook distinguishes webhook-triggered calls from outbound
	// automation calls; only the former are ever deferred.
	IncomingWebhook bool `json:"incoming_webhook" db:"incoming_webhook"`

	// Reason is set for denials and drops (e.g. "global limit").
	Reason string `json:"reason,omitempty" db:"reason"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type RecordType string

const (
	RecordTypeCallAdmitted RecordType = "call_admitted"
	RecordTypeCallDenied   RecordType = "call_denied"
	RecordTypeCallQueued   RecordType = "call_queued"
	RecordTypeCallDropped  RecordType = "call_dropped"

	// RecordTypeWindowRollover marks the archival of an expired window.
	RecordTypeWindowRollover RecordType = "window_rollover"

	// RecordTypeMetaError marks a Graph API failure after admission
	// (quota stays consumed; the error is only traced).
	RecordTypeMetaError RecordType = "meta_api_error"
)
