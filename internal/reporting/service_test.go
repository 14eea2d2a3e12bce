package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"gramflow/internal/audit"
)

func hour(h int) time.Time {
	return time.Date(2025, 6, 1, h, 0, 0, 0, time.UTC)
}

func seededRepo() *MemoryRepo {
	repo := NewMemoryRepo()
	repo.Windows = []ArchivedWindow{
		{Key: "2025-06-01T10", Start: hour(10), End: hour(11), GlobalCalls: 180, GlobalLimit: 200, DistinctAccounts: 3},
		{Key: "2025-06-01T11", Start: hour(11), End: hour(12), GlobalCalls: 200, GlobalLimit: 200, DistinctAccounts: 4},
		{Key: "2025-06-01T12", Start: hour(12), End: hour(13), GlobalCalls: 40, GlobalLimit: 200, DistinctAccounts: 1},
	}
	repo.Usage["t1"] = []TenantWindowUsage{
		{WindowKey: "2025-06-01T10", WindowStart: hour(10), Calls: 9},
		{WindowKey: "2025-06-01T11", WindowStart: hour(11), Calls: 10},
		{WindowKey: "2025-06-01T12", WindowStart: hour(12), Calls: 0},
	}
	repo.Records = []audit.Record{
		{TenantID: "t1", Type: audit.RecordTypeCallQueued, CreatedAt: hour(11).Add(5 * time.Minute)},
		{TenantID: "t1", Type: audit.RecordTypeCallQueued, CreatedAt: hour(11).Add(6 * time.Minute)},
		{TenantID: "t1", Type: audit.RecordTypeCallDropped, CreatedAt: hour(12).Add(1 * time.Minute)},
		{TenantID: "t2", Type: audit.RecordTypeCallQueued, CreatedAt: hour(11).Add(7 * time.Minute)},
	}
	return repo
}

func TestTenantUsage(t *testing.T) {
	svc := NewService(seededRepo())

	out, err := svc.TenantUsage(context.Background(), UsageSummaryRequest{
		TenantID: "t1",
		Range:    TimeRange{From: hour(10), To: hour(13)},
	})
	if err != nil {
		t.Fatalf("TenantUsage: %v", err)
	}
	if out.TotalCalls != 19 {
		t.Fatalf("total = %d, want 19", out.TotalCalls)
	}
	if out.ActiveWindows != 2 {
		t.Fatalf("active windows = %d, want 2", out.ActiveWindows)
	}
	if out.PeakWindowKey != "2025-06-01T11" || out.PeakWindowCalls != 10 {
		t.Fatalf("peak = %s/%d", out.PeakWindowKey, out.PeakWindowCalls)
	}
	if out.QueuedCalls != 2 || out.DroppedCalls != 1 {
		t.Fatalf("queued/dropped = %d/%d, want 2/1", out.QueuedCalls, out.DroppedCalls)
	}
}

func TestTenantUsage_RangeFiltering(t *testing.T) {
	svc := NewService(seededRepo())

	out, err := svc.TenantUsage(context.Background(), UsageSummaryRequest{
		TenantID: "t1",
		Range:    TimeRange{From: hour(11), To: hour(12)},
	})
	if err != nil {
		t.Fatalf("TenantUsage: %v", err)
	}
	if out.TotalCalls != 10 || out.ActiveWindows != 1 {
		t.Fatalf("filtered usage = %+v", out)
	}
}

func TestTenantUsage_Validation(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if _, err := svc.TenantUsage(context.Background(), UsageSummaryRequest{
		Range: TimeRange{From: hour(10), To: hour(11)},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing tenant, got %v", err)
	}
	if _, err := svc.TenantUsage(context.Background(), UsageSummaryRequest{
		TenantID: "t1",
		Range:    TimeRange{From: hour(11), To: hour(10)},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}
}

func TestAppUsage(t *testing.T) {
	svc := NewService(seededRepo())

	out, err := svc.AppUsage(context.Background(), AppUsageRequest{
		Range: TimeRange{From: hour(10), To: hour(13)},
	})
	if err != nil {
		t.Fatalf("AppUsage: %v", err)
	}
	if out.TotalCalls != 420 || out.WindowsArchived != 3 {
		t.Fatalf("app usage = %+v", out)
	}
	if out.WindowsAtLimit != 1 {
		t.Fatalf("windows at limit = %d, want 1", out.WindowsAtLimit)
	}
	if out.PeakWindowKey != "2025-06-01T11" || out.PeakWindowCalls != 200 {
		t.Fatalf("peak = %s/%d", out.PeakWindowKey, out.PeakWindowCalls)
	}
}
