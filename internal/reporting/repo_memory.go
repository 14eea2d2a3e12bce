package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"gramflow/internal/audit"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces tenant isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Windows []ArchivedWindow
	Usage   map[string][]TenantWindowUsage // tenantID -> rows
	Records []audit.Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Usage: map[string][]TenantWindowUsage{}}
}

func (r *MemoryRepo) ListArchivedWindows(ctx context.Context, from, to time.Time) ([]ArchivedWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ArchivedWindow, 0)
	for _, w := range r.Windows {
		if w.Start.Before(from) || !w.Start.Before(to) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (r *MemoryRepo) ListTenantUsage(ctx context.Context, tenantID string, from, to time.Time) ([]TenantWindowUsage, error) {
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TenantWindowUsage, 0)
	for _, u := range r.Usage[tenantID] {
		if u.WindowStart.Before(from) || !u.WindowStart.Before(to) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (r *MemoryRepo) CountCallRecords(ctx context.Context, tenantID string, from, to time.Time, recordType audit.RecordType) (int64, error) {
	if tenantID == "" {
		return 0, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.Records {
		if rec.TenantID != tenantID || rec.Type != recordType {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}
