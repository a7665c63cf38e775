package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"

	"github.com/shopspring/decimal"
)

type OpenWalletInput struct {
	TenantID  string    `json:"tenant_id"`
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   string    `json:"owner_id"`
	ActorID   string    `json:"-"`
}

// OpenWallet creates the single wallet of an owner with a zero balance.
// Calling it again for the same owner returns the existing wallet and false.
//
// An agency owns its tenant, so agency wallets carry TenantID == OwnerID.
func (e *Engine) OpenWallet(ctx context.Context, in OpenWalletInput) (Wallet, bool, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if in.OwnerID == "" {
		return Wallet{}, false, apperr.Validation("owner_id is required")
	}
	if !in.OwnerKind.Valid() {
		return Wallet{}, false, apperr.Validation("owner_kind must be agency or user")
	}
	switch in.OwnerKind {
	case OwnerAgency:
		if in.TenantID == "" {
			in.TenantID = in.OwnerID
		}
		if in.TenantID != in.OwnerID {
			return Wallet{}, false, apperr.Validation("agency wallet must belong to its own tenant")
		}
	case OwnerUser:
		if in.TenantID == "" {
			return Wallet{}, false, apperr.Validation("tenant_id is required")
		}
	}

	now := e.now()
	w := Wallet{
		ID:        e.newID(),
		TenantID:  in.TenantID,
		OwnerID:   in.OwnerID,
		OwnerKind: in.OwnerKind,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.atomic(ctx, "open_wallet", func(ctx context.Context, tx Tx) error {
		return tx.InsertWallet(ctx, w)
	})
	if errors.Is(err, ErrOwnerExists) {
		existing, ferr := e.store.FindWalletByOwner(ctx, in.OwnerID)
		if ferr != nil {
			return Wallet{}, false, ferr
		}
		if existing.TenantID != in.TenantID || existing.OwnerKind != in.OwnerKind {
			return Wallet{}, false, apperr.Validation("owner %s already has a %s wallet in tenant %s",
				in.OwnerID, existing.OwnerKind, existing.TenantID)
		}
		return existing, false, nil
	}
	if err != nil {
		return Wallet{}, false, err
	}

	e.logger(ctx).Info("wallet opened", "wallet_id", w.ID, "owner_id", w.OwnerID, "owner_kind", w.OwnerKind, "tenant_id", w.TenantID)
	if in.ActorID != "" {
		e.record(ctx, audit.Event{
			TenantID: w.TenantID,
			Type:     audit.EventTypeWalletOpened,
			ActorID:  in.ActorID,
			WalletID: w.ID,
			OwnerID:  w.OwnerID,
		})
	}
	return w, true, nil
}

// GetWallet returns the stored wallet without taking a lock.
func (e *Engine) GetWallet(ctx context.Context, walletID string) (Wallet, error) {
	return e.store.GetWallet(ctx, walletID)
}

// WalletOf returns the wallet owned by ownerID.
func (e *Engine) WalletOf(ctx context.Context, ownerID string) (Wallet, error) {
	return e.store.FindWalletByOwner(ctx, ownerID)
}

// GetBalance is a display read. It may be served from the balance cache and is
// never used to decide a debit.
func (e *Engine) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return e.cachedBalance(ctx, walletKey(walletID), func(ctx context.Context) (Wallet, error) {
		return e.store.GetWallet(ctx, walletID)
	})
}

// GetWalletBalance is GetBalance keyed by the owning agency or user.
func (e *Engine) GetWalletBalance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	return e.cachedBalance(ctx, ownerKey(ownerID), func(ctx context.Context) (Wallet, error) {
		return e.store.FindWalletByOwner(ctx, ownerID)
	})
}

func (e *Engine) cachedBalance(ctx context.Context, key string, load func(context.Context) (Wallet, error)) (decimal.Decimal, error) {
	if bal, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger(ctx).Warn("balance cache read failed", "key", key, "err", err)
	} else if ok {
		return bal, nil
	}

	w, err := load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := e.cache.Put(ctx, key, w.Balance, w.Version); err != nil {
		e.logger(ctx).Warn("balance cache write failed", "key", key, "err", err)
	}
	return w.Balance, nil
}

// BalanceAt reconstructs the balance of a wallet at an instant from its entries.
func (e *Engine) BalanceAt(ctx context.Context, walletID string, at time.Time) (decimal.Decimal, error) {
	if _, err := e.store.GetWallet(ctx, walletID); err != nil {
		return decimal.Zero, err
	}
	last, ok, err := e.store.LastEntryAt(ctx, walletID, at.UTC())
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	return last.BalanceAfter, nil
}

// GetLedgerHistory returns one page of the wallet's entries, newest first.
func (e *Engine) GetLedgerHistory(ctx context.Context, walletID string, page Page) ([]Entry, error) {
	if _, err := e.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return e.store.ListEntries(ctx, walletID, page.Normalize())
}

// EntriesBetween returns entries with from <= created_at < to, oldest first.
func (e *Engine) EntriesBetween(ctx context.Context, walletID string, from, to time.Time) ([]Entry, error) {
	if !to.After(from) {
		return nil, apperr.Validation("to must be after from")
	}
	if _, err := e.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return e.store.ListEntriesBetween(ctx, walletID, from.UTC(), to.UTC())
}

// EntriesForRequest returns the entries posted when a request was approved.
func (e *Engine) EntriesForRequest(ctx context.Context, kind RequestKind, id string) ([]Entry, error) {
	ref := kind.ReferenceKind()
	if ref == "" {
		return nil, apperr.Validation("unknown request kind %q", kind)
	}
	return e.store.EntriesByReference(ctx, ref, id)
}

type AdjustInput struct {
	WalletID       string          `json:"-"`
	Direction      Direction       `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
	ActorID        string          `json:"-"`
}

type Adjustment struct {
	Entry  Entry  `json:"entry"`
	Wallet Wallet `json:"wallet"`
}

// AdjustBalance posts an operator correction outside the request workflow.
// Credits are recorded as refunds and debits as withdrawals. The idempotency key
// becomes the entry reference, so replaying it is refused instead of posting twice.
func (e *Engine) AdjustBalance(ctx context.Context, in AdjustInput) (Adjustment, error) {
	in.WalletID = strings.TrimSpace(in.WalletID)
	in.Reason = strings.TrimSpace(in.Reason)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.WalletID == "" {
		return Adjustment{}, apperr.Validation("wallet_id is required")
	}
	if !in.Direction.Valid() {
		return Adjustment{}, apperr.Validation("direction must be credit or debit")
	}
	if err := validAmount("amount", in.Amount); err != nil {
		return Adjustment{}, err
	}
	if in.Reason == "" {
		return Adjustment{}, apperr.Validation("reason is required")
	}
	if in.IdempotencyKey == "" {
		return Adjustment{}, apperr.Validation("idempotency_key is required")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return Adjustment{}, apperr.Validation("actor is required")
	}

	kind := EntryRefund
	if in.Direction == Debit {
		kind = EntryWithdrawal
	}

	var out Adjustment
	err := e.atomic(ctx, "adjust_balance", func(ctx context.Context, tx Tx) error {
		b := newBook(tx, e.now, e.newID)
		if err := b.Lock(ctx, in.WalletID); err != nil {
			return err
		}
		entry, err := b.Append(ctx, in.WalletID, kind, in.Direction, in.Amount, RefManual, in.IdempotencyKey)
		if err != nil {
			if errors.Is(err, ErrDuplicateEntry) {
				return fmt.Errorf("%w: adjustment %s already posted", apperr.ErrDuplicateTransaction, in.IdempotencyKey)
			}
			return err
		}
		out = Adjustment{Entry: entry, Wallet: b.Wallets()[0]}
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}

	e.afterCommit(ctx, []Wallet{out.Wallet}, []Entry{out.Entry})
	e.logger(ctx).Info("balance adjusted",
		"wallet_id", in.WalletID,
		"direction", in.Direction,
		"amount", in.Amount.StringFixed(2),
		"balance_after", out.Entry.BalanceAfter.StringFixed(2),
		"actor_id", in.ActorID,
	)
	e.record(ctx, audit.Event{
		TenantID: out.Wallet.TenantID,
		Type:     audit.EventTypeBalanceAdjusted,
		ActorID:  in.ActorID,
		WalletID: in.WalletID,
		OwnerID:  out.Wallet.OwnerID,
		Message:  fmt.Sprintf("%s %s: %s", in.Direction, in.Amount.StringFixed(2), in.Reason),
	})
	return out, nil
}
