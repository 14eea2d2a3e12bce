package reporting

import (
	"context"
	"errors"
	"time"

	"gramflow/internal/audit"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations must enforce tenant filtering and read only immutable
// sources: archived windows and the append-only call record log.
type Repository interface {
	ListArchivedWindows(ctx context.Context, from, to time.Time) ([]ArchivedWindow, error)
	ListTenantUsage(ctx context.Context, tenantID string, from, to time.Time) ([]TenantWindowUsage, error)
	CountCallRecords(ctx context.Context, tenantID string, from, to time.Time, recordType audit.RecordType) (int64, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) TenantUsage(ctx context.Context, req UsageSummaryRequest) (UsageSummary, error) {
	if req.TenantID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListTenantUsage(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{TenantID: req.TenantID}
	for _, r := range rows {
		out.TotalCalls += r.Calls
		if r.Calls > 0 {
			out.ActiveWindows++
		}
		if r.Calls > out.PeakWindowCalls {
			out.PeakWindowCalls = r.Calls
			out.PeakWindowKey = r.WindowKey
		}
	}

	queued, err := s.repo.CountCallRecords(ctx, req.TenantID, req.Range.From, req.Range.To, audit.RecordTypeCallQueued)
	if err != nil {
		return UsageSummary{}, err
	}
	dropped, err := s.repo.CountCallRecords(ctx, req.TenantID, req.Range.From, req.Range.To, audit.RecordTypeCallDropped)
	if err != nil {
		return UsageSummary{}, err
	}
	out.QueuedCalls = queued
	out.DroppedCalls = dropped
	return out, nil
}

func (s *Service) AppUsage(ctx context.Context, req AppUsageRequest) (AppUsageSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return AppUsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return AppUsageSummary{}, errors.New("reporting: repository not configured")
	}

	windows, err := s.repo.ListArchivedWindows(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return AppUsageSummary{}, err
	}

	out := AppUsageSummary{WindowsArchived: len(windows)}
	for _, w := range windows {
		out.TotalCalls += w.GlobalCalls
		if w.GlobalLimit > 0 && w.GlobalCalls >= w.GlobalLimit {
			out.WindowsAtLimit++
		}
		if w.GlobalCalls > out.PeakWindowCalls {
			out.PeakWindowCalls = w.GlobalCalls
			out.PeakWindowKey = w.Key
		}
	}
	return out, nil
}
