package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"
	"adledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateRepository abstracts commission rate persistence.
// Implementation can be Postgres, cached, etc.
type RateRepository interface {
	FindRate(ctx context.Context, tenantID string, at time.Time) (Rate, bool, error)
	InsertRate(ctx context.Context, r Rate) error
}

// Schedule resolves the commission percentage that applies to a tenant.
//
// Contract:
// - The most recent active rate whose window contains the instant wins.
// - Tenants without a scheduled rate fall back to the configured default.
// - Pure lookup; amounts are computed by Compute at approval time.
type Schedule struct {
	repo     RateRepository
	fallback decimal.Decimal
	clock    func() time.Time
	audit    *audit.Service
}

func NewSchedule(repo RateRepository, fallback decimal.Decimal) *Schedule {
	return &Schedule{repo: repo, fallback: fallback, clock: time.Now}
}

// WithAudit records every scheduled rate as a commission_rate_set event.
func (s *Schedule) WithAudit(a *audit.Service) *Schedule {
	s.audit = a
	return s
}

var ErrRepositoryNotConfigured = errors.New("commission: repository not configured")

// Rate returns the percentage for tenantID at the given instant (service clock when zero).
func (s *Schedule) Rate(ctx context.Context, tenantID string, at time.Time) (decimal.Decimal, error) {
	if s.repo == nil {
		return s.fallback, nil
	}
	if at.IsZero() {
		at = s.clock().UTC()
	}
	r, ok, err := s.repo.FindRate(ctx, tenantID, at)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return s.fallback, nil
	}
	return r.Percent, nil
}

// AddRate schedules a new rate for a tenant on behalf of actorID.
func (s *Schedule) AddRate(ctx context.Context, r Rate, actorID string) (Rate, error) {
	if s.repo == nil {
		return Rate{}, ErrRepositoryNotConfigured
	}
	if strings.TrimSpace(actorID) == "" {
		return Rate{}, apperr.Validation("actor is required")
	}
	r.TenantID = strings.TrimSpace(r.TenantID)
	if r.TenantID == "" {
		return Rate{}, apperr.Validation("tenant_id is required")
	}
	if r.Percent.IsNegative() {
		return Rate{}, apperr.Validation("commission rate must not be negative")
	}
	if err := ValidateRate(r.Percent); err != nil {
		return Rate{}, err
	}
	now := s.clock().UTC()
	if r.EffectiveFrom.IsZero() {
		r.EffectiveFrom = now
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		return Rate{}, apperr.Validation("effective_to must be after effective_from")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RateStatusActive
	}
	r.CreatedAt = now
	if err := s.repo.InsertRate(ctx, r); err != nil {
		return Rate{}, err
	}

	log := logger.FromOr(ctx, slog.Default())
	log.Info("commission rate scheduled", "tenant_id", r.TenantID, "percent", r.Percent.String(), "effective_from", r.EffectiveFrom)
	if s.audit != nil {
		err := s.audit.Append(ctx, audit.Event{
			TenantID: r.TenantID,
			Type:     audit.EventTypeCommissionRateSet,
			ActorID:  actorID,
			Message:  fmt.Sprintf("%s%% from %s", r.Percent.String(), r.EffectiveFrom.Format(time.RFC3339)),
		})
		if err != nil {
			log.Warn("audit append failed", "type", audit.EventTypeCommissionRateSet, "err", err)
		}
	}
	return r, nil
}
