package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type RequestKind string

const (
	KindDeposit     RequestKind = "deposit"
	KindRecharge    RequestKind = "recharge"
	KindApplication RequestKind = "application"
)

// ReferenceKind is the ledger reference written by approvals of this kind.
func (k RequestKind) ReferenceKind() ReferenceKind {
	switch k {
	case KindDeposit:
		return RefDeposit
	case KindRecharge:
		return RefAccountRecharge
	case KindApplication:
		return RefApplication
	default:
		return ""
	}
}

func ParseRequestKind(s string) (RequestKind, bool) {
	switch k := RequestKind(s); k {
	case KindDeposit, KindRecharge, KindApplication:
		return k, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// RequestBase holds the fields every reviewed request shares.
// Status moves exactly once from pending to a terminal state.
type RequestBase struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	WalletID  string `json:"wallet_id" db:"wallet_id"`
	Status    Status `json:"status" db:"status"`
	CreatedBy string `json:"created_by,omitempty" db:"created_by"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy      string     `json:"decided_by,omitempty" db:"decided_by"`
	DecisionReason string     `json:"decision_reason,omitempty" db:"decision_reason"`
}

// Request is implemented by the three reviewed request kinds.
type Request interface {
	Kind() RequestKind
	Base() *RequestBase
}

// DepositRequest evidences an external payment that credits a wallet once approved.
type DepositRequest struct {
	RequestBase
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	PaymentMethod         string          `json:"payment_method" db:"payment_method"`
	ExternalTransactionID string          `json:"external_transaction_id" db:"external_transaction_id"`
	ProofRef              string          `json:"proof_ref,omitempty" db:"proof_ref"`
}

func (r *DepositRequest) Kind() RequestKind  { return KindDeposit }
func (r *DepositRequest) Base() *RequestBase { return &r.RequestBase }

// RechargeRequest tops up an ad account from the paying wallet.
//
// CommissionRate is captured at creation; CommissionAmount and NetAmount are
// computed when the request is approved.
type RechargeRequest struct {
	RequestBase
	AdAccountID      string           `json:"ad_account_id" db:"ad_account_id"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	CommissionRate   decimal.Decimal  `json:"commission_rate" db:"commission_rate"`
	CommissionAmount *decimal.Decimal `json:"commission_amount,omitempty" db:"commission_amount"`
	NetAmount        *decimal.Decimal `json:"net_amount,omitempty" db:"net_amount"`

	// CommissionWalletID receives the commission in referral mode; empty otherwise.
	CommissionWalletID string `json:"commission_wallet_id,omitempty" db:"commission_wallet_id"`
}

func (r *RechargeRequest) Kind() RequestKind  { return KindRecharge }
func (r *RechargeRequest) Base() *RequestBase { return &r.RequestBase }

// ApplicationRequest pays for opening a new ad account.
type ApplicationRequest struct {
	RequestBase
	Platform      string          `json:"platform" db:"platform"`
	OpeningFee    decimal.Decimal `json:"opening_fee" db:"opening_fee"`
	DepositAmount decimal.Decimal `json:"deposit_amount" db:"deposit_amount"`
	TotalCost     decimal.Decimal `json:"total_cost" db:"total_cost"`
}

func (r *ApplicationRequest) Kind() RequestKind  { return KindApplication }
func (r *ApplicationRequest) Base() *RequestBase { return &r.RequestBase }

// cloneRequest returns a deep copy so stored requests never alias caller values.
func cloneRequest(r Request) Request {
	switch v := r.(type) {
	case *DepositRequest:
		c := *v
		c.DecidedAt = cloneTime(v.DecidedAt)
		return &c
	case *RechargeRequest:
		c := *v
		c.DecidedAt = cloneTime(v.DecidedAt)
		c.CommissionAmount = cloneDecimal(v.CommissionAmount)
		c.NetAmount = cloneDecimal(v.NetAmount)
		return &c
	case *ApplicationRequest:
		c := *v
		c.DecidedAt = cloneTime(v.DecidedAt)
		return &c
	default:
		return r
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// RequestFilter selects requests for the review queue.
type RequestFilter struct {
	Kind     RequestKind
	TenantID string
	WalletID string
	Status   Status
	Page     Page
}
