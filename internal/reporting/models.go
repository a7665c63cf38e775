package reporting

import (
	"time"

	"adledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// StatementRequest asks for the movement of one wallet over [From, To).
type StatementRequest struct {
	WalletID string    `json:"wallet_id"`
	Range    TimeRange `json:"range"`
}

// Statement is derived from immutable ledger entries only.
// ClosingBalance always equals OpeningBalance + TotalCredits - TotalDebits.
type Statement struct {
	WalletID string    `json:"wallet_id"`
	Range    TimeRange `json:"range"`

	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`

	TotalCredits decimal.Decimal `json:"total_credits"`
	TotalDebits  decimal.Decimal `json:"total_debits"`
	NetChange    decimal.Decimal `json:"net_change"`

	EntryCount int                                  `json:"entry_count"`
	ByKind     map[ledger.EntryKind]decimal.Decimal `json:"by_kind"`
}

// RequestSummaryRequest aggregates the review queue of one kind.
// Tenant isolation: TenantID is required.
type RequestSummaryRequest struct {
	TenantID string             `json:"tenant_id"`
	Kind     ledger.RequestKind `json:"kind"`
	Range    TimeRange          `json:"range"`
}

type RequestSummary struct {
	TenantID string             `json:"tenant_id"`
	Kind     ledger.RequestKind `json:"kind"`

	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`

	PendingAmount  decimal.Decimal `json:"pending_amount"`
	ApprovedAmount decimal.Decimal `json:"approved_amount"`
}
