package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only and written after the ledger commit; callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if ip, ok := IPFrom(ctx); ok && e.IPAddress == "" {
		e.IPAddress = ip
	}
	if role, ok := RoleFrom(ctx); ok && e.ActorRole == "" {
		e.ActorRole = role
	}
	return s.repo.Append(ctx, e)
}

type ctxKey int

const (
	ctxIP ctxKey = iota
	ctxRole
)

// WithRequestInfo attaches caller details that Append copies onto events.
func WithRequestInfo(ctx context.Context, ip, role string) context.Context {
	ctx = context.WithValue(ctx, ctxIP, ip)
	return context.WithValue(ctx, ctxRole, role)
}

func IPFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxIP).(string)
	return v, ok && v != ""
}

func RoleFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRole).(string)
	return v, ok && v != ""
}
