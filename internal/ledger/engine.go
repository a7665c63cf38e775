package ledger

import (
	"context"
	"log/slog"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"
	"adledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionMode selects who receives the commission of a recharge.
type CommissionMode string

const (
	// CommissionDeducted keeps the commission out of the paying wallet only.
	CommissionDeducted CommissionMode = "deducted"
	// CommissionReferral also credits it to the tenant's agency wallet.
	CommissionReferral CommissionMode = "referral"
)

// RateSource resolves the commission percentage for a tenant.
type RateSource interface {
	Rate(ctx context.Context, tenantID string, at time.Time) (decimal.Decimal, error)
}

// BalanceCache serves display reads. It is never consulted inside an atomic unit.
//
// Entries carry the wallet version they were read at. Put never replaces a newer
// version, so a reader that loaded the wallet before a commit cannot bring back
// the balance that commit superseded.
type BalanceCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Put(ctx context.Context, key string, balance decimal.Decimal, version int64) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Metrics receives post-commit observations.
type Metrics interface {
	ObserveDecision(kind RequestKind, status Status)
	ObserveEntries(entries []Entry)
	ObserveConflictRetry(op string)
	ObserveCouponOp(op CouponOp, outcome string)
}

// Auditor records who did what. Failures are logged, never returned.
type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

type Options struct {
	CommissionMode CommissionMode
	Rates          RateSource
	Cache          BalanceCache
	Metrics        Metrics
	Audit          Auditor
	Logger         *slog.Logger

	// MaxRetries bounds transparent re-runs after apperr.ErrConcurrencyConflict.
	MaxRetries int

	Clock func() time.Time
	NewID func() string
}

// Engine is the ledger and approval workflow.
//
// Money invariants:
// - A balance only changes inside Store.Atomic, together with exactly one entry per posting.
// - Wallets touched by one unit are locked in ascending id order.
// - A request leaves pending exactly once; approval and its postings commit together.
type Engine struct {
	store      Store
	mode       CommissionMode
	rates      RateSource
	cache      BalanceCache
	metrics    Metrics
	audit      Auditor
	log        *slog.Logger
	maxRetries int
	clock      func() time.Time
	newID      func() string
	strategies map[RequestKind]deltaStrategy
}

func NewEngine(store Store, opts Options) *Engine {
	e := &Engine{
		store:      store,
		mode:       opts.CommissionMode,
		rates:      opts.Rates,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		log:        opts.Logger,
		maxRetries: opts.MaxRetries,
		clock:      opts.Clock,
		newID:      opts.NewID,
	}
	if e.mode == "" {
		e.mode = CommissionReferral
	}
	if e.rates == nil {
		e.rates = fixedRate{}
	}
	if e.cache == nil {
		e.cache = nopCache{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.strategies = map[RequestKind]deltaStrategy{
		KindDeposit:     depositStrategy{},
		KindRecharge:    rechargeStrategy{},
		KindApplication: applicationStrategy{},
	}
	return e
}

// now is truncated to the storage precision so memory and Postgres agree.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, e.log)
}

// atomic runs fn in one storage transaction, re-running the whole unit on
// concurrency conflicts. No partial state survives a failed attempt.
func (e *Engine) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := e.store.Atomic(ctx, fn)
		if err == nil || !apperr.Retryable(err) || attempt >= e.maxRetries {
			return err
		}
		e.metrics.ObserveConflictRetry(op)
		e.logger(ctx).Warn("ledger conflict, retrying", "op", op, "attempt", attempt+1, "err", err)

		backoff := time.Duration(attempt+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// afterCommit writes the committed balances of touched wallets to the cache and records metrics.
func (e *Engine) afterCommit(ctx context.Context, wallets []Wallet, entries []Entry) {
	for _, w := range wallets {
		for _, key := range []string{walletKey(w.ID), ownerKey(w.OwnerID)} {
			err := e.cache.Put(ctx, key, w.Balance, w.Version)
			if err == nil {
				continue
			}
			e.logger(ctx).Warn("balance cache write failed", "key", key, "err", err)
			if err := e.cache.Invalidate(ctx, key); err != nil {
				e.logger(ctx).Warn("balance cache invalidation failed", "key", key, "err", err)
			}
		}
	}
	if len(entries) > 0 {
		e.metrics.ObserveEntries(entries)
	}
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ctx, ev); err != nil {
		e.logger(ctx).Warn("audit append failed", "type", ev.Type, "err", err)
	}
}

func walletKey(id string) string { return "wallet:" + id }
func ownerKey(id string) string  { return "owner:" + id }

type fixedRate struct{ percent decimal.Decimal }

func (f fixedRate) Rate(context.Context, string, time.Time) (decimal.Decimal, error) {
	return f.percent, nil
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}
func (nopCache) Put(context.Context, string, decimal.Decimal, int64) error { return nil }
func (nopCache) Invalidate(context.Context, ...string) error               { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveDecision(RequestKind, Status) {}
func (nopMetrics) ObserveEntries([]Entry)              {}
func (nopMetrics) ObserveConflictRetry(string)         {}
func (nopMetrics) ObserveCouponOp(CouponOp, string)    {}

// validAmount accepts strictly positive values with at most two decimals.
func validAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.Validation("%s must be positive", field)
	}
	return validCents(field, d)
}

func validNonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.Validation("%s must not be negative", field)
	}
	return validCents(field, d)
}

func validCents(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(2)) {
		return apperr.Validation("%s must have at most two decimal places", field)
	}
	return nil
}
