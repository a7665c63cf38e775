package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"adledger/internal/audit"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stepClock advances one second per reading so entries get distinct timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// rewind moves the clock back, as a reading taken earlier by a slower caller would be.
func (c *stepClock) rewind(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(-d)
}

type staticRate string

func (r staticRate) Rate(context.Context, string, time.Time) (decimal.Decimal, error) {
	return decimal.RequireFromString(string(r)), nil
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	audit  *audit.MemoryRepo
	clock  *stepClock
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		audit: audit.NewMemoryRepo(),
		clock: newStepClock(),
	}
	opts := Options{
		Audit: audit.NewService(f.audit),
		Clock: f.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.engine = NewEngine(f.store, opts)
	return f
}

func (f *fixture) agency(t *testing.T, tenant string) Wallet {
	t.Helper()
	w, _, err := f.engine.OpenWallet(context.Background(), OpenWalletInput{TenantID: tenant, OwnerKind: OwnerAgency, OwnerID: tenant, ActorID: "admin"})
	if err != nil {
		t.Fatalf("open agency wallet: %v", err)
	}
	return w
}

func (f *fixture) user(t *testing.T, tenant, owner string) Wallet {
	t.Helper()
	w, _, err := f.engine.OpenWallet(context.Background(), OpenWalletInput{TenantID: tenant, OwnerKind: OwnerUser, OwnerID: owner, ActorID: "admin"})
	if err != nil {
		t.Fatalf("open user wallet: %v", err)
	}
	return w
}

// fund deposits and approves amount on the wallet.
func (f *fixture) fund(t *testing.T, walletID, amount, txID string) {
	t.Helper()
	ctx := context.Background()
	r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID:              walletID,
		Amount:                d(amount),
		PaymentMethod:         "bank_transfer",
		ExternalTransactionID: txID,
		CreatedBy:             "u-1",
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if _, err := f.engine.Approve(ctx, KindDeposit, r.ID, "reviewer"); err != nil {
		t.Fatalf("approve deposit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), walletID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w.Balance
}

// assertChain checks the per-wallet ledger is gapless and reconciles with the balance.
func (f *fixture) assertChain(t *testing.T, walletID string) {
	t.Helper()
	ctx := context.Background()
	w, err := f.store.GetWallet(ctx, walletID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	entries, err := f.store.ListEntriesBetween(ctx, walletID, time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if int64(len(entries)) != w.Version {
		t.Fatalf("wallet %s version %d, %d entries", walletID, w.Version, len(entries))
	}
	running := decimal.Zero
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d has seq %d", i, e.Seq)
		}
		if !e.BalanceBefore.Equal(running) {
			t.Fatalf("entry %d balance_before %s, expected %s", e.Seq, e.BalanceBefore, running)
		}
		running = running.Add(e.Signed())
		if !e.BalanceAfter.Equal(running) {
			t.Fatalf("entry %d balance_after %s, expected %s", e.Seq, e.BalanceAfter, running)
		}
		if running.IsNegative() {
			t.Fatalf("entry %d drives balance negative", e.Seq)
		}
	}
	if !w.Balance.Equal(running) {
		t.Fatalf("wallet balance %s does not reconcile with ledger sum %s", w.Balance, running)
	}
}
