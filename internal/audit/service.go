package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call records.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

// Service writes the admission decision trail.
//
// Appends are best-effort: failures are logged and swallowed so the hot
// path never stalls or reverses a decision because the trail is down.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// Append validates and persists a record, returning any persistence error.
// Most callers should prefer Trace.
func (s *Service) Append(ctx context.Context, r Record) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if r.TenantID == "" && r.Type != RecordTypeWindowRollover {
		return ErrInvalidRecord
	}
	if r.Type == "" {
		return ErrInvalidRecord
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, r)
}

// Trace appends best-effort: validation or storage failures are logged,
// never returned.
func (s *Service) Trace(ctx context.Context, r Record) {
	if err := s.Append(ctx, r); err != nil {
		s.log.WarnContext(ctx, "audit append failed", "type", r.Type, "tenant_id", r.TenantID, "err", err)
	}
}
