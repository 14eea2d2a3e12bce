package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_AppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	svc.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	err := svc.Append(context.Background(), Record{
		TenantID: "t1",
		Type:     RecordTypeCallAdmitted,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if recs[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
}

func TestService_AppendRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)

	if err := svc.Append(context.Background(), Record{Type: RecordTypeCallAdmitted}); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord for missing tenant, got %v", err)
	}
	if err := svc.Append(context.Background(), Record{TenantID: "t1"}); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord for missing type, got %v", err)
	}
}

func TestService_RolloverRecordNeedsNoTenant(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)

	if err := svc.Append(context.Background(), Record{Type: RecordTypeWindowRollover, WindowKey: "2025-06-01T11"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := len(repo.ByType(RecordTypeWindowRollover)); got != 1 {
		t.Fatalf("expected 1 rollover record, got %d", got)
	}
}
