package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract of the engine.
//
// Atomic runs fn inside one storage transaction: either every write made through
// tx becomes visible, or none does. Implementations map lock timeouts, deadlocks
// and serialization failures to apperr.ErrConcurrencyConflict.
//
// The read methods outside Atomic take no locks; they serve display and history.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetWallet(ctx context.Context, id string) (Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	FindAgencyWallet(ctx context.Context, tenantID string) (Wallet, error)

	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, walletID string, page Page) ([]Entry, error)
	// ListEntriesBetween returns entries with from <= created_at < to, oldest first.
	ListEntriesBetween(ctx context.Context, walletID string, from, to time.Time) ([]Entry, error)
	// LastEntryAt returns the latest entry created at or before at.
	LastEntryAt(ctx context.Context, walletID string, at time.Time) (Entry, bool, error)
	// EntriesByReference returns every entry posted for one request or adjustment.
	EntriesByReference(ctx context.Context, kind ReferenceKind, id string) ([]Entry, error)

	GetRequest(ctx context.Context, kind RequestKind, id string) (Request, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	GetCoupons(ctx context.Context, ownerID string) (CouponBalance, error)
	ListCouponEntries(ctx context.Context, ownerID string, page Page) ([]CouponEntry, error)
}

// Tx is the write surface available inside Store.Atomic.
type Tx interface {
	// InsertWallet fails with ErrOwnerExists when the owner already has a wallet.
	InsertWallet(ctx context.Context, w Wallet) error
	// LockWallet takes the per-wallet exclusive lock and returns the current row.
	LockWallet(ctx context.Context, id string) (Wallet, error)
	SetBalance(ctx context.Context, id string, balance decimal.Decimal, version int64, at time.Time) error
	// InsertEntry fails with ErrDuplicateEntry when the wallet already has an entry
	// of the same kind for the same reference.
	InsertEntry(ctx context.Context, e Entry) error

	// InsertRequest fails with apperr.ErrDuplicateTransaction when a deposit reuses
	// an external transaction id within the tenant.
	InsertRequest(ctx context.Context, r Request) error
	// LockRequest takes the per-request exclusive lock and returns a private copy.
	LockRequest(ctx context.Context, kind RequestKind, id string) (Request, error)
	// SaveDecision persists the terminal status of a request that was pending.
	SaveDecision(ctx context.Context, r Request) error

	// LockCoupons takes the per-owner coupon lock; a missing row reads as zero.
	LockCoupons(ctx context.Context, ownerID string, at time.Time) (CouponBalance, error)
	SetCoupons(ctx context.Context, b CouponBalance) error
	InsertCouponEntry(ctx context.Context, e CouponEntry) error
}

// Storage-level conflicts translated by the engine into the caller-facing taxonomy.
var (
	ErrOwnerExists    = errors.New("ledger: owner already has a wallet")
	ErrDuplicateEntry = errors.New("ledger: entry already posted for reference")
)
