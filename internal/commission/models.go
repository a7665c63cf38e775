package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rate is a tenant-scoped commission percentage with an effective window.
type Rate struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Percent is the share of a recharge amount kept as commission (0..100).
	Percent decimal.Decimal `json:"percent" db:"percent"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// activeAt reports whether r applies at the given instant.
func (r Rate) activeAt(at time.Time) bool {
	if r.Status != RateStatusActive {
		return false
	}
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}
