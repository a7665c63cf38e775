package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"adledger/internal/apperr"
	"adledger/internal/audit"
)

func TestDeposit_ApproveCreditsWalletOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID:              w.ID,
		Amount:                d("100.00"),
		PaymentMethod:         "bank_transfer",
		ExternalTransactionID: "TX123",
		ProofRef:              "s3://proofs/tx123.png",
		CreatedBy:             "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != StatusPending || r.TenantID != "agency-1" {
		t.Fatalf("unexpected request %+v", r)
	}

	dec, err := f.engine.Approve(ctx, KindDeposit, r.ID, "reviewer-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if dec.Request.Base().Status != StatusApproved || dec.Request.Base().DecidedAt == nil {
		t.Fatalf("expected approved request with decision time, got %+v", dec.Request.Base())
	}
	if len(dec.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(dec.Entries))
	}
	e := dec.Entries[0]
	if e.Kind != EntryDeposit || e.Direction != Credit || !e.Amount.Equal(d("100")) ||
		e.ReferenceKind != RefDeposit || e.ReferenceID != r.ID {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !e.BalanceBefore.IsZero() || !e.BalanceAfter.Equal(d("100")) {
		t.Fatalf("unexpected before/after %s/%s", e.BalanceBefore, e.BalanceAfter)
	}
	if len(dec.Wallets) != 1 || !dec.Wallets[0].Balance.Equal(d("100")) {
		t.Fatalf("expected authoritative wallet state, got %+v", dec.Wallets)
	}

	_, err = f.engine.Approve(ctx, KindDeposit, r.ID, "reviewer-2")
	if !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on second approve, got %v", err)
	}
	_, err = f.engine.Reject(ctx, KindDeposit, r.ID, "reviewer-2", "changed my mind")
	if !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on reject after approve, got %v", err)
	}

	if got := f.balance(t, w.ID); !got.Equal(d("100")) {
		t.Fatalf("expected balance 100, got %s", got)
	}
	entries, _ := f.engine.EntriesForRequest(ctx, KindDeposit, r.ID)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry for the request, got %d", len(entries))
	}
	f.assertChain(t, w.ID)
}

func TestDeposit_RejectLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID: w.ID, Amount: d("50"), PaymentMethod: "card", ExternalTransactionID: "TX9",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.engine.Reject(ctx, KindDeposit, r.ID, "reviewer", "   "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank reason, got %v", err)
	}

	dec, err := f.engine.Reject(ctx, KindDeposit, r.ID, "reviewer", "proof unreadable")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	b := dec.Request.Base()
	if b.Status != StatusRejected || b.DecisionReason != "proof unreadable" || b.DecidedBy != "reviewer" {
		t.Fatalf("unexpected decision %+v", b)
	}
	if len(dec.Entries) != 0 {
		t.Fatalf("reject must not post entries")
	}

	if _, err := f.engine.Approve(ctx, KindDeposit, r.ID, "reviewer"); !errors.Is(err, apperr.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if got := f.balance(t, w.ID); !got.IsZero() {
		t.Fatalf("expected zero balance, got %s", got)
	}
	stored, err := f.engine.GetRequest(ctx, KindDeposit, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Base().Status != StatusRejected {
		t.Fatalf("expected stored status rejected, got %s", stored.Base().Status)
	}
}

func TestDeposit_ExternalTransactionIDIsUniquePerTenant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")
	other := f.user(t, "agency-2", "user-2")

	in := DepositInput{WalletID: w.ID, Amount: d("10"), PaymentMethod: "card", ExternalTransactionID: "TX123"}
	first, err := f.engine.CreateDepositRequest(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.CreateDepositRequest(ctx, in); !errors.Is(err, apperr.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}

	// The id stays reserved after the first request is rejected.
	if _, err := f.engine.Reject(ctx, KindDeposit, first.ID, "reviewer", "duplicate"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.engine.CreateDepositRequest(ctx, in); !errors.Is(err, apperr.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction after reject, got %v", err)
	}
	if apperr.Message(apperr.ErrDuplicateTransaction) != "transaction id already used" {
		t.Fatalf("unexpected user-visible reason")
	}

	in.WalletID = other.ID
	if _, err := f.engine.CreateDepositRequest(ctx, in); err != nil {
		t.Fatalf("another tenant may reuse the id: %v", err)
	}
}

func TestDeposit_ConcurrentDuplicateSubmissionsCreateOne(t *testing.T) {
	f := newFixture(t, nil)
	w := f.user(t, "agency-1", "user-1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dups    int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateDepositRequest(context.Background(), DepositInput{
				WalletID: w.ID, Amount: d("10"), PaymentMethod: "card", ExternalTransactionID: "TX-RACE",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperr.ErrDuplicateTransaction):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || dups != 9 {
		t.Fatalf("expected 1 created and 9 duplicates, got %d/%d", created, dups)
	}
}

func TestDeposit_ValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	cases := []struct {
		name string
		in   DepositInput
	}{
		{"missing wallet", DepositInput{Amount: d("1"), PaymentMethod: "card", ExternalTransactionID: "a"}},
		{"zero amount", DepositInput{WalletID: w.ID, Amount: d("0"), PaymentMethod: "card", ExternalTransactionID: "a"}},
		{"negative amount", DepositInput{WalletID: w.ID, Amount: d("-5"), PaymentMethod: "card", ExternalTransactionID: "a"}},
		{"sub-cent amount", DepositInput{WalletID: w.ID, Amount: d("1.005"), PaymentMethod: "card", ExternalTransactionID: "a"}},
		{"missing method", DepositInput{WalletID: w.ID, Amount: d("1"), ExternalTransactionID: "a"}},
		{"missing transaction id", DepositInput{WalletID: w.ID, Amount: d("1"), PaymentMethod: "card"}},
	}
	for _, tc := range cases {
		if _, err := f.engine.CreateDepositRequest(ctx, tc.in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}

	_, err := f.engine.CreateDepositRequest(ctx, DepositInput{WalletID: "missing", Amount: d("1"), PaymentMethod: "card", ExternalTransactionID: "a"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown wallet, got %v", err)
	}
}

func TestApprove_ConcurrentApprovalsOnOneWalletSerialize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	ids := make([]string, 10)
	for i := range ids {
		r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
			WalletID: w.ID, Amount: d("10.00"), PaymentMethod: "card",
			ExternalTransactionID: "TX-" + string(rune('A'+i)),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids[i] = r.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.engine.Approve(context.Background(), KindDeposit, id, "reviewer"); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("approve: %v", err)
	}

	if got := f.balance(t, w.ID); !got.Equal(d("100")) {
		t.Fatalf("expected exactly 100.00, got %s", got)
	}
	f.assertChain(t, w.ID)
}

func TestApprove_RacingDecisionsOnOneRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")
	r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID: w.ID, Amount: d("25"), PaymentMethod: "card", ExternalTransactionID: "TX-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.engine.Approve(context.Background(), KindDeposit, r.ID, "reviewer")
			} else {
				_, err = f.engine.Reject(context.Background(), KindDeposit, r.ID, "reviewer", "no")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrInvalidStateTransition):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || conflict != 7 {
		t.Fatalf("expected exactly one decision, got ok=%d conflict=%d", ok, conflict)
	}

	stored, _ := f.engine.GetRequest(ctx, KindDeposit, r.ID)
	bal := f.balance(t, w.ID)
	switch stored.Base().Status {
	case StatusApproved:
		if !bal.Equal(d("25")) {
			t.Fatalf("approved but balance %s", bal)
		}
	case StatusRejected:
		if !bal.IsZero() {
			t.Fatalf("rejected but balance %s", bal)
		}
	default:
		t.Fatalf("request still %s", stored.Base().Status)
	}
	f.assertChain(t, w.ID)
}

func TestRecharge_DeductedCommission(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.CommissionMode = CommissionDeducted
		o.Rates = staticRate("5")
	})
	ctx := context.Background()
	f.agency(t, "agency-1")
	w := f.user(t, "agency-1", "user-1")
	f.fund(t, w.ID, "500.00", "TX-FUND")

	r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act_1", WalletID: w.ID, Amount: d("200.00"), CreatedBy: "user-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !r.CommissionRate.Equal(d("5")) || r.CommissionWalletID != "" || r.CommissionAmount != nil {
		t.Fatalf("unexpected pending recharge %+v", r)
	}

	dec, err := f.engine.Approve(ctx, KindRecharge, r.ID, "reviewer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	rr := dec.Request.(*RechargeRequest)
	if !rr.CommissionAmount.Equal(d("10")) || !rr.NetAmount.Equal(d("190")) {
		t.Fatalf("expected commission 10 and net 190, got %s/%s", rr.CommissionAmount, rr.NetAmount)
	}
	if len(dec.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(dec.Entries))
	}
	if dec.Entries[0].Kind != EntryWithdrawal || !dec.Entries[0].Amount.Equal(d("190")) {
		t.Fatalf("unexpected withdrawal %+v", dec.Entries[0])
	}
	if dec.Entries[1].Kind != EntryCommissionDebit || !dec.Entries[1].Amount.Equal(d("10")) {
		t.Fatalf("unexpected commission debit %+v", dec.Entries[1])
	}
	if got := f.balance(t, w.ID); !got.Equal(d("300")) {
		t.Fatalf("expected 300 left, got %s", got)
	}

	stored, _ := f.engine.GetRequest(ctx, KindRecharge, r.ID)
	if sr := stored.(*RechargeRequest); sr.CommissionAmount == nil || !sr.CommissionAmount.Equal(d("10")) {
		t.Fatalf("commission must be persisted with the decision")
	}
	f.assertChain(t, w.ID)
}

func TestRecharge_ReferralCreditsAgencyWallet(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.CommissionMode = CommissionReferral
		o.Rates = staticRate("5")
	})
	ctx := context.Background()
	agency := f.agency(t, "agency-1")
	w := f.user(t, "agency-1", "user-1")
	f.fund(t, w.ID, "200.00", "TX-FUND")

	r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act_1", WalletID: w.ID, Amount: d("200")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.CommissionWalletID != agency.ID {
		t.Fatalf("expected commission routed to agency wallet, got %q", r.CommissionWalletID)
	}

	dec, err := f.engine.Approve(ctx, KindRecharge, r.ID, "reviewer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(dec.Entries) != 3 || len(dec.Wallets) != 2 {
		t.Fatalf("expected 3 entries over 2 wallets, got %d/%d", len(dec.Entries), len(dec.Wallets))
	}
	if got := f.balance(t, w.ID); !got.IsZero() {
		t.Fatalf("payer should be drained, got %s", got)
	}
	if got := f.balance(t, agency.ID); !got.Equal(d("10")) {
		t.Fatalf("agency should hold the 10.00 commission, got %s", got)
	}
	f.assertChain(t, w.ID)
	f.assertChain(t, agency.ID)
}

func TestRecharge_DefaultReferralWithoutAgencyWalletKeepsPayerPostings(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Rates = staticRate("5") })
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")
	f.fund(t, w.ID, "200.00", "TX-FUND")

	r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act_1", WalletID: w.ID, Amount: d("200")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.CommissionWalletID != "" {
		t.Fatalf("expected no commission wallet, got %q", r.CommissionWalletID)
	}
	dec, err := f.engine.Approve(ctx, KindRecharge, r.ID, "reviewer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(dec.Entries) != 2 || len(dec.Wallets) != 1 {
		t.Fatalf("expected withdrawal and commission debit on the payer, got %d/%d", len(dec.Entries), len(dec.Wallets))
	}
	if got := f.balance(t, w.ID); !got.IsZero() {
		t.Fatalf("payer should be drained, got %s", got)
	}
}

func TestRecharge_ReferralByAgencyPostsNoSelfCredit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.CommissionMode = CommissionReferral
		o.Rates = staticRate("5")
	})
	ctx := context.Background()
	agency := f.agency(t, "agency-1")
	f.fund(t, agency.ID, "100", "TX-FUND")

	r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act_1", WalletID: agency.ID, Amount: d("100")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	dec, err := f.engine.Approve(ctx, KindRecharge, r.ID, "reviewer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(dec.Entries) != 2 {
		t.Fatalf("expected withdrawal and commission debit only, got %d entries", len(dec.Entries))
	}
	if got := f.balance(t, agency.ID); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestRecharge_ReferralConcurrentTwoWalletApprovals(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.CommissionMode = CommissionReferral
		o.Rates = staticRate("10")
	})
	ctx := context.Background()
	agency := f.agency(t, "agency-1")
	users := []Wallet{f.user(t, "agency-1", "u-1"), f.user(t, "agency-1", "u-2")}
	f.fund(t, agency.ID, "1000", "TX-A")

	var ids []string
	for i, u := range users {
		f.fund(t, u.ID, "100", "TX-U"+string(rune('0'+i)))
		for j := 0; j < 5; j++ {
			r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act", WalletID: u.ID, Amount: d("20")})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			ids = append(ids, r.ID)
		}
	}
	// Agency recharges too, so locks are taken on the agency wallet from both sides.
	for j := 0; j < 5; j++ {
		r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act", WalletID: agency.ID, Amount: d("20")})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.engine.Approve(context.Background(), KindRecharge, id, "reviewer"); err != nil {
				t.Errorf("approve %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	for _, u := range users {
		if got := f.balance(t, u.ID); !got.IsZero() {
			t.Fatalf("user wallet should be drained, got %s", got)
		}
		f.assertChain(t, u.ID)
	}
	// 1000 - 5*20 own recharges + 10 * 2.00 commission
	if got := f.balance(t, agency.ID); !got.Equal(d("920")) {
		t.Fatalf("expected agency 920, got %s", got)
	}
	f.assertChain(t, agency.ID)
}

func TestRecharge_RateAboveHundredRejectedAtCreation(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Rates = staticRate("150") })
	w := f.user(t, "agency-1", "user-1")
	_, err := f.engine.CreateAccountRechargeRequest(context.Background(), RechargeInput{AdAccountID: "act", WalletID: w.ID, Amount: d("10")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecharge_InsufficientBalanceKeepsRequestPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")
	f.fund(t, w.ID, "50", "TX-1")

	r, err := f.engine.CreateAccountRechargeRequest(ctx, RechargeInput{AdAccountID: "act", WalletID: w.ID, Amount: d("80")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Approve(ctx, KindRecharge, r.ID, "reviewer"); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	stored, _ := f.engine.GetRequest(ctx, KindRecharge, r.ID)
	if stored.Base().Status != StatusPending {
		t.Fatalf("expected pending, got %s", stored.Base().Status)
	}
	if got := f.balance(t, w.ID); !got.Equal(d("50")) {
		t.Fatalf("balance must be unchanged, got %s", got)
	}
	f.assertChain(t, w.ID)
}

func TestApplication_DebitsTotalCost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	r, err := f.engine.CreateApplicationRequest(ctx, ApplicationInput{
		WalletID: w.ID, Platform: "meta", OpeningFee: d("30"), DepositAmount: d("70"), CreatedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !r.TotalCost.Equal(d("100")) {
		t.Fatalf("expected total 100, got %s", r.TotalCost)
	}

	// Not funded yet.
	if _, err := f.engine.Approve(ctx, KindApplication, r.ID, "reviewer"); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	f.fund(t, w.ID, "120", "TX-1")
	dec, err := f.engine.Approve(ctx, KindApplication, r.ID, "reviewer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(dec.Entries) != 1 || dec.Entries[0].Kind != EntryWithdrawal || dec.Entries[0].ReferenceKind != RefApplication {
		t.Fatalf("unexpected entries %+v", dec.Entries)
	}
	if got := f.balance(t, w.ID); !got.Equal(d("20")) {
		t.Fatalf("expected 20, got %s", got)
	}
	f.assertChain(t, w.ID)
}

func TestApplication_ValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	cases := []ApplicationInput{
		{WalletID: w.ID, OpeningFee: d("1"), DepositAmount: d("1")},
		{WalletID: w.ID, Platform: "meta", OpeningFee: d("-1"), DepositAmount: d("5")},
		{WalletID: w.ID, Platform: "meta", OpeningFee: d("0"), DepositAmount: d("0")},
	}
	for i, in := range cases {
		if _, err := f.engine.CreateApplicationRequest(ctx, in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestDecision_UnknownRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.engine.Approve(ctx, KindDeposit, "nope", "reviewer"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.Approve(ctx, RequestKind("refund"), "x", "reviewer"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}
	if _, err := f.engine.Approve(ctx, KindDeposit, "x", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing reviewer, got %v", err)
	}
}

func TestApprove_SubmitterCannotApproveOwnRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")

	r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID: w.ID, Amount: d("1000000"), PaymentMethod: "bank_transfer", ExternalTransactionID: "TX-SELF", CreatedBy: "staff-1",
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if _, err := f.engine.Approve(ctx, KindDeposit, r.ID, "staff-1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if !f.balance(t, w.ID).IsZero() {
		t.Fatalf("refused approval moved the balance")
	}
	got, err := f.engine.GetRequest(ctx, KindDeposit, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Base().Status != StatusPending {
		t.Fatalf("expected request to stay pending, got %s", got.Base().Status)
	}

	if _, err := f.engine.Approve(ctx, KindDeposit, r.ID, "staff-2"); err != nil {
		t.Fatalf("independent reviewer: %v", err)
	}
	if !f.balance(t, w.ID).Equal(d("1000000")) {
		t.Fatalf("expected balance credited after independent approval")
	}
}

func TestListRequests_FiltersAndOrdersNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	w := f.user(t, "agency-1", "user-1")
	other := f.user(t, "agency-2", "user-2")

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := f.engine.CreateDepositRequest(ctx, DepositInput{
			WalletID: w.ID, Amount: d("5"), PaymentMethod: "card", ExternalTransactionID: "T" + string(rune('0'+i)),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, r.ID)
	}
	if _, err := f.engine.CreateDepositRequest(ctx, DepositInput{
		WalletID: other.ID, Amount: d("5"), PaymentMethod: "card", ExternalTransactionID: "T0",
	}); err != nil {
		t.Fatalf("create other tenant: %v", err)
	}
	if _, err := f.engine.Approve(ctx, KindDeposit, ids[0], "reviewer"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := f.engine.ListRequests(ctx, RequestFilter{Kind: KindDeposit, TenantID: "agency-1", Status: StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].Base().ID != ids[2] || pending[1].Base().ID != ids[1] {
		t.Fatalf("unexpected pending queue %v", pending)
	}

	page, err := f.engine.ListRequests(ctx, RequestFilter{Kind: KindDeposit, TenantID: "agency-1", Page: Page{Number: 2, Size: 2}})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].Base().ID != ids[0] {
		t.Fatalf("unexpected second page %v", page)
	}

	if _, err := f.engine.ListRequests(ctx, RequestFilter{Kind: KindDeposit, Status: "done"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestDecision_AppendsAuditEvents(t *testing.T) {
	f := newFixture(t, nil)
	w := f.user(t, "agency-1", "user-1")
	f.fund(t, w.ID, "10", "TX-1")

	decided := f.audit.Find(audit.Query{TenantID: "agency-1", Type: audit.EventTypeRequestDecided})
	if len(decided) != 1 {
		t.Fatalf("expected one decision event, got %d", len(decided))
	}
	if ev := decided[0]; ev.ActorID != "reviewer" || ev.RequestKind != string(KindDeposit) || ev.RequestID == "" {
		t.Fatalf("unexpected audit event %+v", ev)
	}
	if got := f.audit.Find(audit.Query{RequestID: decided[0].RequestID}); len(got) != 2 {
		t.Fatalf("expected created and decided events for the request, got %+v", got)
	}
}
