package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adledger/internal/apperr"

	"github.com/shopspring/decimal"
)

// posting is one balance movement computed by a delta strategy.
type posting struct {
	WalletID  string
	Kind      EntryKind
	Direction Direction
	Amount    decimal.Decimal
}

// book is the wallet registry and ledger writer bound to one atomic unit.
// It is the only code path that changes a wallet balance.
type book struct {
	tx      Tx
	clock   func() time.Time
	now     time.Time
	newID   func() string
	wallets map[string]*Wallet
	order   []string
}

func newBook(tx Tx, clock func() time.Time, newID func() string) *book {
	return &book{tx: tx, clock: clock, newID: newID, wallets: make(map[string]*Wallet)}
}

// Lock acquires the exclusive lock of every wallet in ascending id order so
// that two-wallet operations can never deadlock each other. It must be called
// once, before any ApplyDelta.
//
// The posting time is taken only once every lock is held and never precedes
// the last update of a locked wallet, so created_at follows seq within a wallet.
func (b *book) Lock(ctx context.Context, ids ...string) error {
	if len(b.wallets) > 0 {
		return fmt.Errorf("ledger: wallets already locked in this unit")
	}
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)

	for _, id := range uniq {
		w, err := b.tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		b.wallets[id] = &w
	}
	b.order = uniq

	b.now = b.clock().UTC()
	for _, w := range b.wallets {
		if w.UpdatedAt.After(b.now) {
			b.now = w.UpdatedAt.UTC()
		}
	}
	return nil
}

// Now is the posting time of this unit. It is zero until Lock succeeds.
func (b *book) Now() time.Time { return b.now }

// GetBalance returns the locked, in-unit balance of a wallet.
func (b *book) GetBalance(walletID string) (decimal.Decimal, error) {
	w, ok := b.wallets[walletID]
	if !ok {
		return decimal.Zero, fmt.Errorf("ledger: wallet %s not locked", walletID)
	}
	return w.Balance, nil
}

// ApplyDelta moves the balance by a signed amount and returns the balance before
// and after. A debit below zero fails with ErrInsufficientBalance.
func (b *book) ApplyDelta(ctx context.Context, walletID string, signed decimal.Decimal) (before, after decimal.Decimal, seq int64, err error) {
	w, ok := b.wallets[walletID]
	if !ok {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("ledger: wallet %s not locked", walletID)
	}
	before = w.Balance
	after = before.Add(signed)
	if after.IsNegative() {
		return decimal.Zero, decimal.Zero, 0, fmt.Errorf("%w: wallet %s holds %s, needs %s",
			apperr.ErrInsufficientBalance, walletID, before.StringFixed(2), signed.Neg().StringFixed(2))
	}
	seq = w.Version + 1
	if err := b.tx.SetBalance(ctx, walletID, after, seq, b.now); err != nil {
		return decimal.Zero, decimal.Zero, 0, err
	}
	w.Balance = after
	w.Version = seq
	w.UpdatedAt = b.now
	return before, after, seq, nil
}

// Append posts one entry: the balance change and its immutable record.
func (b *book) Append(ctx context.Context, walletID string, kind EntryKind, dir Direction, amount decimal.Decimal, refKind ReferenceKind, refID string) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, apperr.Validation("ledger amount must be positive, got %s", amount)
	}
	if !dir.Valid() {
		return Entry{}, apperr.Validation("unknown direction %q", dir)
	}
	signed := amount
	if dir == Debit {
		signed = amount.Neg()
	}
	before, after, seq, err := b.ApplyDelta(ctx, walletID, signed)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:            b.newID(),
		WalletID:      walletID,
		Seq:           seq,
		Kind:          kind,
		Direction:     dir,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceKind: refKind,
		ReferenceID:   refID,
		CreatedAt:     b.now,
	}
	if err := b.tx.InsertEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (b *book) post(ctx context.Context, p posting, refKind ReferenceKind, refID string) (Entry, error) {
	return b.Append(ctx, p.WalletID, p.Kind, p.Direction, p.Amount, refKind, refID)
}

// Wallets returns the post-mutation state of every locked wallet in lock order.
func (b *book) Wallets() []Wallet {
	out := make([]Wallet, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.wallets[id])
	}
	return out
}
