package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"adledger/internal/apperr"
)

func TestMemoryStore_FailedUnitLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertWallet(ctx, Wallet{ID: "w1", TenantID: "t", OwnerID: "o", OwnerKind: OwnerUser, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if _, err := tx.LockWallet(ctx, "w1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetWallet(ctx, "w1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("rolled back wallet must not exist, got %v", err)
	}
	if _, err := s.FindWalletByOwner(ctx, "o"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("rolled back owner index must not exist, got %v", err)
	}
}

func TestMemoryStore_WritesRequireLocks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertEntry(ctx, Entry{ID: "e", WalletID: "w1"})
	})
	if err == nil {
		t.Fatalf("expected an error when posting to an unlocked wallet")
	}
}

func TestMemoryStore_LockWaitHonorsContext(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()
	if err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertWallet(ctx, Wallet{ID: "w1", TenantID: "t", OwnerID: "o", OwnerKind: OwnerUser, CreatedAt: now, UpdatedAt: now})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockWallet(ctx, "w1"); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Atomic(waitCtx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LockWallet(ctx, "w1")
		return err
	})
	close(done)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting for the lock, got %v", err)
	}
}
