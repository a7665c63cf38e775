package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the current-balance record of one agency or user.
//
// Money invariants:
// - Balance is never negative.
// - Balance equals BalanceAfter of the entry with Seq == Version (0 when Version == 0).
// - Only the engine writes Balance, always together with a ledger entry.
type Wallet struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	OwnerKind OwnerKind       `json:"owner_kind" db:"owner_kind"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`

	// Version counts postings; the latest entry carries Seq == Version.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type OwnerKind string

const (
	OwnerAgency OwnerKind = "agency"
	OwnerUser   OwnerKind = "user"
)

func (k OwnerKind) Valid() bool {
	return k == OwnerAgency || k == OwnerUser
}

// Entry is an immutable record of one balance change.
type Entry struct {
	ID       string `json:"id" db:"id"`
	WalletID string `json:"wallet_id" db:"wallet_id"`

	// Seq is the per-wallet posting number, starting at 1.
	Seq int64 `json:"seq" db:"seq"`

	Kind      EntryKind       `json:"kind" db:"kind"`
	Direction Direction       `json:"direction" db:"direction"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`

	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`

	ReferenceKind ReferenceKind `json:"reference_kind" db:"reference_kind"`
	ReferenceID   string        `json:"reference_id" db:"reference_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Signed returns the amount with the sign implied by the direction.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

type EntryKind string

const (
	EntryDeposit          EntryKind = "deposit"
	EntryWithdrawal       EntryKind = "withdrawal"
	EntryRefund           EntryKind = "refund"
	EntryCommissionCredit EntryKind = "commission_credit"
	EntryCommissionDebit  EntryKind = "commission_debit"
)

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

func (d Direction) Valid() bool { return d == Credit || d == Debit }

type ReferenceKind string

const (
	RefDeposit         ReferenceKind = "deposit"
	RefAccountRecharge ReferenceKind = "account_recharge"
	RefApplication     ReferenceKind = "application"
	RefCoupon          ReferenceKind = "coupon"
	RefManual          ReferenceKind = "manual"
)

// Page selects a slice of a newest-first listing.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Normalize clamps the page to sane bounds. Number is 1-based.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }
