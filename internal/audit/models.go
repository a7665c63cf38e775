package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor_id is required; every ledger-affecting action has a human or service actor.
// - ip capture is best-effort; do not block critical flows on audit failures.
type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id,omitempty" db:"tenant_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	ActorID   string `json:"actor_id" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	WalletID    string `json:"wallet_id,omitempty" db:"wallet_id"`
	OwnerID     string `json:"owner_id,omitempty" db:"owner_id"`
	RequestKind string `json:"request_kind,omitempty" db:"request_kind"`
	RequestID   string `json:"request_id,omitempty" db:"request_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeWalletOpened      EventType = "wallet_opened"
	EventTypeRequestCreated    EventType = "request_created"
	EventTypeRequestDecided    EventType = "request_decided"
	EventTypeBalanceAdjusted   EventType = "balance_adjusted"
	EventTypeCouponsChanged    EventType = "coupons_changed"
	EventTypeCommissionRateSet EventType = "commission_rate_set"
)
