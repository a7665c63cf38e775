package reporting

import (
	"context"
	"errors"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Reports read immutable sources only (ledger entries, decided requests).
// - *ledger.Engine satisfies it directly.
type Repository interface {
	BalanceAt(ctx context.Context, walletID string, at time.Time) (decimal.Decimal, error)
	EntriesBetween(ctx context.Context, walletID string, from, to time.Time) ([]ledger.Entry, error)
	ListRequests(ctx context.Context, f ledger.RequestFilter) ([]ledger.Request, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

var errNoRepository = errors.New("reporting: repository not configured")

func validRange(r TimeRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return apperr.Validation("range requires from < to")
	}
	return nil
}

// Statement summarizes a wallet over [From, To). The opening balance is the
// balance just before From, reconstructed from the ledger.
func (s *Service) Statement(ctx context.Context, req StatementRequest) (Statement, error) {
	if req.WalletID == "" {
		return Statement{}, apperr.Validation("wallet_id is required")
	}
	if err := validRange(req.Range); err != nil {
		return Statement{}, err
	}
	if s.repo == nil {
		return Statement{}, errNoRepository
	}

	entries, err := s.repo.EntriesBetween(ctx, req.WalletID, req.Range.From, req.Range.To)
	if err != nil {
		return Statement{}, err
	}
	opening, err := s.repo.BalanceAt(ctx, req.WalletID, req.Range.From.Add(-time.Microsecond))
	if err != nil {
		return Statement{}, err
	}

	out := Statement{
		WalletID:       req.WalletID,
		Range:          req.Range,
		OpeningBalance: opening,
		TotalCredits:   decimal.Zero,
		TotalDebits:    decimal.Zero,
		ByKind:         map[ledger.EntryKind]decimal.Decimal{},
	}
	for _, e := range entries {
		out.EntryCount++
		if e.Direction == ledger.Credit {
			out.TotalCredits = out.TotalCredits.Add(e.Amount)
		} else {
			out.TotalDebits = out.TotalDebits.Add(e.Amount)
		}
		out.ByKind[e.Kind] = out.ByKind[e.Kind].Add(e.Amount)
	}
	out.NetChange = out.TotalCredits.Sub(out.TotalDebits)
	out.ClosingBalance = out.OpeningBalance.Add(out.NetChange)
	return out, nil
}

// RequestSummary counts requests created in the range by status.
func (s *Service) RequestSummary(ctx context.Context, req RequestSummaryRequest) (RequestSummary, error) {
	if req.TenantID == "" {
		return RequestSummary{}, apperr.Validation("tenant_id is required")
	}
	if req.Kind.ReferenceKind() == "" {
		return RequestSummary{}, apperr.Validation("unknown request kind %q", req.Kind)
	}
	if err := validRange(req.Range); err != nil {
		return RequestSummary{}, err
	}
	if s.repo == nil {
		return RequestSummary{}, errNoRepository
	}

	out := RequestSummary{TenantID: req.TenantID, Kind: req.Kind, PendingAmount: decimal.Zero, ApprovedAmount: decimal.Zero}
	page := ledger.Page{Number: 1, Size: 200}
	for {
		rows, err := s.repo.ListRequests(ctx, ledger.RequestFilter{Kind: req.Kind, TenantID: req.TenantID, Page: page})
		if err != nil {
			return RequestSummary{}, err
		}
		for _, r := range rows {
			b := r.Base()
			if b.CreatedAt.Before(req.Range.From) || !b.CreatedAt.Before(req.Range.To) {
				continue
			}
			switch b.Status {
			case ledger.StatusPending:
				out.Pending++
				out.PendingAmount = out.PendingAmount.Add(requestAmount(r))
			case ledger.StatusApproved:
				out.Approved++
				out.ApprovedAmount = out.ApprovedAmount.Add(requestAmount(r))
			case ledger.StatusRejected:
				out.Rejected++
			}
		}
		if len(rows) < page.Size {
			return out, nil
		}
		page.Number++
	}
}

// requestAmount is what the request moves out of or into the paying wallet.
func requestAmount(r ledger.Request) decimal.Decimal {
	switch v := r.(type) {
	case *ledger.DepositRequest:
		return v.Amount
	case *ledger.RechargeRequest:
		return v.Amount
	case *ledger.ApplicationRequest:
		return v.TotalCost
	default:
		return decimal.Zero
	}
}

var _ Repository = (*ledger.Engine)(nil)
