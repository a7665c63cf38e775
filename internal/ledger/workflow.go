package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adledger/internal/apperr"
	"adledger/internal/audit"
	"adledger/internal/commission"

	"github.com/shopspring/decimal"
)

// deltaStrategy computes the postings an approval of one request kind produces.
// Strategies may fill derived fields on the request (commission amounts).
type deltaStrategy interface {
	postings(r Request) ([]posting, error)
}

type depositStrategy struct{}

func (depositStrategy) postings(r Request) ([]posting, error) {
	d, ok := r.(*DepositRequest)
	if !ok {
		return nil, fmt.Errorf("ledger: expected deposit request, got %T", r)
	}
	return []posting{{WalletID: d.WalletID, Kind: EntryDeposit, Direction: Credit, Amount: d.Amount}}, nil
}

type rechargeStrategy struct{}

// postings debits the payer by amount, split into the net top-up and the
// commission, and credits the commission wallet when one was routed at creation.
// Zero-valued legs are skipped.
func (rechargeStrategy) postings(r Request) ([]posting, error) {
	rr, ok := r.(*RechargeRequest)
	if !ok {
		return nil, fmt.Errorf("ledger: expected recharge request, got %T", r)
	}
	fee, net, err := commission.Split(rr.Amount, rr.CommissionRate)
	if err != nil {
		return nil, err
	}
	rr.CommissionAmount = &fee
	rr.NetAmount = &net

	var out []posting
	if net.IsPositive() {
		out = append(out, posting{WalletID: rr.WalletID, Kind: EntryWithdrawal, Direction: Debit, Amount: net})
	}
	if fee.IsPositive() {
		out = append(out, posting{WalletID: rr.WalletID, Kind: EntryCommissionDebit, Direction: Debit, Amount: fee})
		if rr.CommissionWalletID != "" {
			out = append(out, posting{WalletID: rr.CommissionWalletID, Kind: EntryCommissionCredit, Direction: Credit, Amount: fee})
		}
	}
	return out, nil
}

type applicationStrategy struct{}

func (applicationStrategy) postings(r Request) ([]posting, error) {
	a, ok := r.(*ApplicationRequest)
	if !ok {
		return nil, fmt.Errorf("ledger: expected application request, got %T", r)
	}
	return []posting{{WalletID: a.WalletID, Kind: EntryWithdrawal, Direction: Debit, Amount: a.TotalCost}}, nil
}

// DepositInput is the payload of CreateDepositRequest.
type DepositInput struct {
	WalletID              string          `json:"wallet_id"`
	Amount                decimal.Decimal `json:"amount"`
	PaymentMethod         string          `json:"payment_method"`
	ExternalTransactionID string          `json:"external_transaction_id"`
	ProofRef              string          `json:"proof_ref,omitempty"`
	CreatedBy             string          `json:"-"`
}

// RechargeInput is the payload of CreateAccountRechargeRequest.
type RechargeInput struct {
	AdAccountID string          `json:"ad_account_id"`
	WalletID    string          `json:"wallet_id"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedBy   string          `json:"-"`
}

// ApplicationInput is the payload of CreateApplicationRequest.
type ApplicationInput struct {
	WalletID      string          `json:"wallet_id"`
	Platform      string          `json:"platform"`
	OpeningFee    decimal.Decimal `json:"opening_fee"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	CreatedBy     string          `json:"-"`
}

// Decision is the authoritative outcome of Approve or Reject.
type Decision struct {
	Request Request  `json:"request"`
	Entries []Entry  `json:"entries"`
	Wallets []Wallet `json:"wallets"`
}

func (e *Engine) newBase(w Wallet, createdBy string) RequestBase {
	return RequestBase{
		ID:        e.newID(),
		TenantID:  w.TenantID,
		WalletID:  w.ID,
		Status:    StatusPending,
		CreatedBy: createdBy,
		CreatedAt: e.now(),
	}
}

// CreateDepositRequest records a pending deposit. The external transaction id
// is reserved for the tenant at this point, whatever the later decision.
func (e *Engine) CreateDepositRequest(ctx context.Context, in DepositInput) (*DepositRequest, error) {
	in.WalletID = strings.TrimSpace(in.WalletID)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.ExternalTransactionID = strings.TrimSpace(in.ExternalTransactionID)
	in.ProofRef = strings.TrimSpace(in.ProofRef)
	if in.WalletID == "" {
		return nil, apperr.Validation("wallet_id is required")
	}
	if err := validAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	if in.PaymentMethod == "" {
		return nil, apperr.Validation("payment_method is required")
	}
	if in.ExternalTransactionID == "" {
		return nil, apperr.Validation("external_transaction_id is required")
	}

	w, err := e.store.GetWallet(ctx, in.WalletID)
	if err != nil {
		return nil, err
	}
	r := &DepositRequest{
		RequestBase:           e.newBase(w, in.CreatedBy),
		Amount:                in.Amount,
		PaymentMethod:         in.PaymentMethod,
		ExternalTransactionID: in.ExternalTransactionID,
		ProofRef:              in.ProofRef,
	}
	if err := e.insertRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateAccountRechargeRequest records a pending ad-account top-up. The tenant's
// commission rate is captured now; the commission wallet is routed by mode.
func (e *Engine) CreateAccountRechargeRequest(ctx context.Context, in RechargeInput) (*RechargeRequest, error) {
	in.WalletID = strings.TrimSpace(in.WalletID)
	in.AdAccountID = strings.TrimSpace(in.AdAccountID)
	if in.WalletID == "" {
		return nil, apperr.Validation("wallet_id is required")
	}
	if in.AdAccountID == "" {
		return nil, apperr.Validation("ad_account_id is required")
	}
	if err := validAmount("amount", in.Amount); err != nil {
		return nil, err
	}

	w, err := e.store.GetWallet(ctx, in.WalletID)
	if err != nil {
		return nil, err
	}
	base := e.newBase(w, in.CreatedBy)
	rate, err := e.rates.Rate(ctx, w.TenantID, base.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("resolve commission rate: %w", err)
	}
	if err := commission.ValidateRate(rate); err != nil {
		return nil, err
	}

	r := &RechargeRequest{
		RequestBase:    base,
		AdAccountID:    in.AdAccountID,
		Amount:         in.Amount,
		CommissionRate: rate,
	}
	if e.mode == CommissionReferral && rate.IsPositive() {
		agency, err := e.store.FindAgencyWallet(ctx, w.TenantID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			// Payer postings are unchanged; nobody receives the commission.
			e.logger(ctx).Warn("no agency wallet to receive commission", "tenant_id", w.TenantID, "wallet_id", w.ID)
		case err != nil:
			return nil, fmt.Errorf("route commission for tenant %s: %w", w.TenantID, err)
		case agency.ID != w.ID:
			r.CommissionWalletID = agency.ID
		}
	}
	if err := e.insertRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateApplicationRequest records a pending ad-account opening.
func (e *Engine) CreateApplicationRequest(ctx context.Context, in ApplicationInput) (*ApplicationRequest, error) {
	in.WalletID = strings.TrimSpace(in.WalletID)
	in.Platform = strings.TrimSpace(in.Platform)
	if in.WalletID == "" {
		return nil, apperr.Validation("wallet_id is required")
	}
	if in.Platform == "" {
		return nil, apperr.Validation("platform is required")
	}
	if err := validNonNegative("opening_fee", in.OpeningFee); err != nil {
		return nil, err
	}
	if err := validNonNegative("deposit_amount", in.DepositAmount); err != nil {
		return nil, err
	}
	total := in.OpeningFee.Add(in.DepositAmount)
	if !total.IsPositive() {
		return nil, apperr.Validation("total cost must be positive")
	}

	w, err := e.store.GetWallet(ctx, in.WalletID)
	if err != nil {
		return nil, err
	}
	r := &ApplicationRequest{
		RequestBase:   e.newBase(w, in.CreatedBy),
		Platform:      in.Platform,
		OpeningFee:    in.OpeningFee,
		DepositAmount: in.DepositAmount,
		TotalCost:     total,
	}
	if err := e.insertRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) insertRequest(ctx context.Context, r Request) error {
	err := e.atomic(ctx, "create_"+string(r.Kind()), func(ctx context.Context, tx Tx) error {
		return tx.InsertRequest(ctx, r)
	})
	if err != nil {
		return err
	}
	b := r.Base()
	e.logger(ctx).Info("request created", "kind", r.Kind(), "request_id", b.ID, "wallet_id", b.WalletID)
	if b.CreatedBy != "" {
		e.record(ctx, audit.Event{
			TenantID:    b.TenantID,
			Type:        audit.EventTypeRequestCreated,
			ActorID:     b.CreatedBy,
			WalletID:    b.WalletID,
			RequestKind: string(r.Kind()),
			RequestID:   b.ID,
		})
	}
	return nil
}

// Approve moves a pending request to approved and posts its ledger entries in
// the same atomic unit. Deciding an already-decided request fails with
// apperr.ErrInvalidStateTransition and changes nothing. The submitter of a
// request can never approve it (apperr.ErrForbidden).
func (e *Engine) Approve(ctx context.Context, kind RequestKind, requestID, reviewerID string) (Decision, error) {
	strat, ok := e.strategies[kind]
	if !ok {
		return Decision{}, apperr.Validation("unknown request kind %q", kind)
	}
	if strings.TrimSpace(requestID) == "" {
		return Decision{}, apperr.Validation("request id is required")
	}
	if strings.TrimSpace(reviewerID) == "" {
		return Decision{}, apperr.Validation("reviewer id is required")
	}

	var out Decision
	err := e.atomic(ctx, "approve_"+string(kind), func(ctx context.Context, tx Tx) error {
		r, err := lockPending(ctx, tx, kind, requestID)
		if err != nil {
			return err
		}
		if r.Base().CreatedBy == reviewerID {
			return fmt.Errorf("%w: %s %s cannot be approved by its submitter", apperr.ErrForbidden, kind, requestID)
		}
		ps, err := strat.postings(r)
		if err != nil {
			return err
		}

		b := newBook(tx, e.now, e.newID)
		ids := make([]string, 0, len(ps))
		for _, p := range ps {
			ids = append(ids, p.WalletID)
		}
		if err := b.Lock(ctx, ids...); err != nil {
			return err
		}
		now := b.Now()

		base := r.Base()
		entries := make([]Entry, 0, len(ps))
		for _, p := range ps {
			entry, err := b.post(ctx, p, kind.ReferenceKind(), base.ID)
			if err != nil {
				if errors.Is(err, ErrDuplicateEntry) {
					return fmt.Errorf("%w: %s %s already posted", apperr.ErrInvalidStateTransition, kind, base.ID)
				}
				return err
			}
			entries = append(entries, entry)
		}

		base.Status = StatusApproved
		base.DecidedAt = &now
		base.DecidedBy = reviewerID
		if err := tx.SaveDecision(ctx, r); err != nil {
			return err
		}
		out = Decision{Request: r, Entries: entries, Wallets: b.Wallets()}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	e.afterCommit(ctx, out.Wallets, out.Entries)
	e.metrics.ObserveDecision(kind, StatusApproved)
	base := out.Request.Base()
	e.logger(ctx).Info("request approved",
		"kind", kind,
		"request_id", base.ID,
		"wallet_id", base.WalletID,
		"reviewer_id", reviewerID,
		"entries", len(out.Entries),
	)
	e.record(ctx, audit.Event{
		TenantID:    base.TenantID,
		Type:        audit.EventTypeRequestDecided,
		ActorID:     reviewerID,
		WalletID:    base.WalletID,
		RequestKind: string(kind),
		RequestID:   base.ID,
		Message:     "approved",
	})
	return out, nil
}

// Reject moves a pending request to rejected. It never touches the ledger.
func (e *Engine) Reject(ctx context.Context, kind RequestKind, requestID, reviewerID, reason string) (Decision, error) {
	if _, ok := e.strategies[kind]; !ok {
		return Decision{}, apperr.Validation("unknown request kind %q", kind)
	}
	if strings.TrimSpace(requestID) == "" {
		return Decision{}, apperr.Validation("request id is required")
	}
	if strings.TrimSpace(reviewerID) == "" {
		return Decision{}, apperr.Validation("reviewer id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Decision{}, apperr.Validation("rejection reason is required")
	}

	var out Decision
	err := e.atomic(ctx, "reject_"+string(kind), func(ctx context.Context, tx Tx) error {
		r, err := lockPending(ctx, tx, kind, requestID)
		if err != nil {
			return err
		}
		now := e.now()
		base := r.Base()
		base.Status = StatusRejected
		base.DecidedAt = &now
		base.DecidedBy = reviewerID
		base.DecisionReason = reason
		if err := tx.SaveDecision(ctx, r); err != nil {
			return err
		}
		out = Decision{Request: r, Entries: []Entry{}, Wallets: []Wallet{}}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	e.metrics.ObserveDecision(kind, StatusRejected)
	base := out.Request.Base()
	e.logger(ctx).Info("request rejected",
		"kind", kind,
		"request_id", base.ID,
		"wallet_id", base.WalletID,
		"reviewer_id", reviewerID,
	)
	e.record(ctx, audit.Event{
		TenantID:    base.TenantID,
		Type:        audit.EventTypeRequestDecided,
		ActorID:     reviewerID,
		WalletID:    base.WalletID,
		RequestKind: string(kind),
		RequestID:   base.ID,
		Message:     "rejected: " + reason,
	})
	return out, nil
}

// lockPending is the transition guard: it runs under the request lock, inside
// the same unit as the state change.
func lockPending(ctx context.Context, tx Tx, kind RequestKind, id string) (Request, error) {
	r, err := tx.LockRequest(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if st := r.Base().Status; st != StatusPending {
		return nil, fmt.Errorf("%w: %s %s is %s", apperr.ErrInvalidStateTransition, kind, id, st)
	}
	return r, nil
}

// GetRequest returns one request of the given kind.
func (e *Engine) GetRequest(ctx context.Context, kind RequestKind, id string) (Request, error) {
	if _, ok := e.strategies[kind]; !ok {
		return nil, apperr.Validation("unknown request kind %q", kind)
	}
	return e.store.GetRequest(ctx, kind, id)
}

// ListRequests returns the review queue, newest first.
func (e *Engine) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	if _, ok := e.strategies[f.Kind]; !ok {
		return nil, apperr.Validation("unknown request kind %q", f.Kind)
	}
	if f.Status != "" && f.Status != StatusPending && !f.Status.Terminal() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	f.Page = f.Page.Normalize()
	return e.store.ListRequests(ctx, f)
}
