package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"
)

// CouponBalance is a non-monetary integer credit per owner. Never negative.
type CouponBalance struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CouponEntry records one give/take for audit and history.
type CouponEntry struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Op            CouponOp  `json:"op" db:"op"`
	Quantity      int64     `json:"quantity" db:"quantity"`
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	Note          string    `json:"note,omitempty" db:"note"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type CouponOp string

const (
	CouponGive CouponOp = "give"
	CouponTake CouponOp = "take"
)

type CouponInput struct {
	TenantID string `json:"-"`
	OwnerID  string `json:"-"`
	Quantity int64  `json:"quantity"`
	Note     string `json:"note,omitempty"`
	ActorID  string `json:"-"`
}

// GiveCoupons adds quantity to the owner's coupon balance.
func (e *Engine) GiveCoupons(ctx context.Context, in CouponInput) (CouponBalance, error) {
	return e.changeCoupons(ctx, CouponGive, in)
}

// TakeCoupons removes quantity from the owner's coupon balance. Taking more
// than the owner holds fails with apperr.ErrInsufficientCoupons and changes nothing.
func (e *Engine) TakeCoupons(ctx context.Context, in CouponInput) (CouponBalance, error) {
	return e.changeCoupons(ctx, CouponTake, in)
}

func (e *Engine) changeCoupons(ctx context.Context, op CouponOp, in CouponInput) (CouponBalance, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Note = strings.TrimSpace(in.Note)
	if in.OwnerID == "" {
		return CouponBalance{}, apperr.Validation("owner_id is required")
	}
	if in.Quantity <= 0 {
		return CouponBalance{}, apperr.Validation("quantity must be a positive integer")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return CouponBalance{}, apperr.Validation("actor is required")
	}

	var out CouponBalance
	err := e.atomic(ctx, "coupons_"+string(op), func(ctx context.Context, tx Tx) error {
		now := e.now()
		cur, err := tx.LockCoupons(ctx, in.OwnerID, now)
		if err != nil {
			return err
		}
		next := cur.Balance + in.Quantity
		if op == CouponTake {
			if in.Quantity > cur.Balance {
				return fmt.Errorf("%w: owner %s holds %d, requested %d",
					apperr.ErrInsufficientCoupons, in.OwnerID, cur.Balance, in.Quantity)
			}
			next = cur.Balance - in.Quantity
		}
		out = CouponBalance{OwnerID: in.OwnerID, Balance: next, UpdatedAt: now}
		if err := tx.SetCoupons(ctx, out); err != nil {
			return err
		}
		return tx.InsertCouponEntry(ctx, CouponEntry{
			ID:            e.newID(),
			OwnerID:       in.OwnerID,
			Op:            op,
			Quantity:      in.Quantity,
			BalanceBefore: cur.Balance,
			BalanceAfter:  next,
			ActorID:       in.ActorID,
			Note:          in.Note,
			CreatedAt:     now,
		})
	})
	switch {
	case errors.Is(err, apperr.ErrInsufficientCoupons):
		e.metrics.ObserveCouponOp(op, "insufficient")
		return CouponBalance{}, err
	case err != nil:
		e.metrics.ObserveCouponOp(op, "error")
		return CouponBalance{}, err
	}

	e.metrics.ObserveCouponOp(op, "ok")
	e.logger(ctx).Info("coupons changed", "owner_id", in.OwnerID, "op", op, "quantity", in.Quantity, "balance", out.Balance)
	e.record(ctx, audit.Event{
		Type:     audit.EventTypeCouponsChanged,
		TenantID: in.TenantID,
		ActorID:  in.ActorID,
		OwnerID:  in.OwnerID,
		Message:  fmt.Sprintf("%s %d", op, in.Quantity),
		Metadata: fmt.Sprintf(`{"balance_after":%d}`, out.Balance),
	})
	return out, nil
}

// GetCoupons returns the owner's coupon balance; owners never given coupons hold zero.
func (e *Engine) GetCoupons(ctx context.Context, ownerID string) (CouponBalance, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return CouponBalance{}, apperr.Validation("owner_id is required")
	}
	return e.store.GetCoupons(ctx, ownerID)
}

// CouponHistory returns give/take records for an owner, newest first.
func (e *Engine) CouponHistory(ctx context.Context, ownerID string, page Page) ([]CouponEntry, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperr.Validation("owner_id is required")
	}
	return e.store.ListCouponEntries(ctx, ownerID, page.Normalize())
}
