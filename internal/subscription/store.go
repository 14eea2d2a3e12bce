package subscription

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("subscription: not found")

// Store is the read-only subscription lookup used by tier resolution.
//
// Implementations must return the newest active subscription for the
// tenant + product line, or ErrNotFound when none exists. Expiry is NOT
// evaluated here; callers check IsActiveAt against their own clock so
// that resolution stays deterministic in tests.
type Store interface {
	GetActiveSubscription(ctx context.Context, tenantID, productLine string) (Subscription, error)
}

// PostgresStore reads subscriptions from the primary datastore.
//
// Assumed table:
//   subscriptions(id, tenant_id, product_line, plan, status,
//                 current_period_end, created_at, updated_at)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetActiveSubscription(ctx context.Context, tenantID, productLine string) (Subscription, error) {
	const q = `
SELECT id, tenant_id, product_line, plan, status, current_period_end, created_at, updated_at
FROM subscriptions
WHERE tenant_id = $1 AND product_line = $2 AND status = 'active'
ORDER BY current_period_end DESC
LIMIT 1
`
	var sub Subscription
	err := s.db.QueryRowContext(ctx, q, tenantID, productLine).Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.ProductLine,
		&sub.Plan,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	return sub, nil
}
