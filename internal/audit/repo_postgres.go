package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists call records.
//
// Assumed table:
//   call_records(id, tenant_id, account_id, type, window_key, call_count,
//                incoming_webhook, reason, metadata, created_at)
// INSERT-only; retention handled operationally.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_records (
  id, tenant_id, account_id, type, window_key, call_count, incoming_webhook, reason, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.TenantID,
		rec.AccountID,
		rec.Type,
		rec.WindowKey,
		rec.CallCount,
		rec.IncomingWebhook,
		rec.Reason,
		rec.Metadata,
		rec.CreatedAt,
	)
	return err
}
