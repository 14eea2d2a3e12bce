package instagram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrAccountNotFound = errors.New("instagram: account not found")

// Directory resolves Instagram account IDs to connected accounts. The webhook
// path uses it to map an incoming event to the owning tenant.
type Directory interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	MarkMetaRateLimited(ctx context.Context, id string, until time.Time) error
}

// PostgresDirectory reads the instagram_accounts table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

func (d *PostgresDirectory) GetAccount(ctx context.Context, id string) (Account, error) {
	const q = `
		SELECT id, tenant_id, username, access_token, is_active, meta_rate_limited_until, created_at, updated_at
		FROM instagram_accounts WHERE id = $1`
	var a Account
	err := d.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID, &a.TenantID, &a.Username, &a.AccessToken, &a.IsActive, &a.MetaRateLimitedUntil, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("get instagram account: %w", err)
	}
	return a, nil
}

func (d *PostgresDirectory) MarkMetaRateLimited(ctx context.Context, id string, until time.Time) error {
	const q = `
		UPDATE instagram_accounts SET meta_rate_limited_until = $2, updated_at = NOW() WHERE id = $1`
	res, err := d.db.ExecContext(ctx, q, id, until)
	if err != nil {
		return fmt.Errorf("mark account rate limited: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MemoryDirectory is an in-memory Directory for tests.
type MemoryDirectory struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]Account)}
}

func (d *MemoryDirectory) Put(a Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.ID] = a
}

func (d *MemoryDirectory) GetAccount(ctx context.Context, id string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (d *MemoryDirectory) MarkMetaRateLimited(ctx context.Context, id string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.MetaRateLimitedUntil = &until
	d.accounts[id] = a
	return nil
}
