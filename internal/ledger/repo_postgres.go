package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"adledger/internal/apperr"
	"adledger/pkg/utils"

	"github.com/shopspring/decimal"
)

// NOTE: PostgresStore assumes the schema of internal/migrations:
// - wallets (balance NUMERIC CHECK >= 0, version)
// - ledger_entries (immutable; UNIQUE (wallet_id, seq) and ledger_entries_reference_uq)
// - deposit_requests (deposit_requests_external_tx_uq on tenant_id, external_transaction_id)
// - recharge_requests, application_requests
// - coupon_balances (CHECK balance >= 0), coupon_entries
//
// Unique violations are translated by constraint name. Serialization failures,
// deadlocks and lock timeouts become apperr.ErrConcurrencyConflict.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: 5 * time.Second}
}

const (
	constraintExternalTx  = "deposit_requests_external_tx_uq"
	constraintEntryRef    = "ledger_entries_reference_uq"
	constraintWalletOwner = "wallets_owner_uq"
)

func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock waits past the timeout abort with 55P03 and are retried by the engine.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return err
		}
		return fn(ctx, &pgTx{tx: tx})
	})
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if utils.IsTransientPgError(err) {
		return fmt.Errorf("%w: %v", apperr.ErrConcurrencyConflict, err)
	}
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	const q = `
SELECT id, tenant_id, owner_id, owner_kind, balance, version, created_at, updated_at
FROM wallets
WHERE id = $1
`
	w, err := scanWallet(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, apperr.NotFound("wallet", id)
	}
	return w, err
}

func (s *PostgresStore) FindWalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	const q = `
SELECT id, tenant_id, owner_id, owner_kind, balance, version, created_at, updated_at
FROM wallets
WHERE owner_id = $1
`
	w, err := scanWallet(s.db.QueryRowContext(ctx, q, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, apperr.NotFound("wallet of owner", ownerID)
	}
	return w, err
}

func (s *PostgresStore) FindAgencyWallet(ctx context.Context, tenantID string) (Wallet, error) {
	const q = `
SELECT id, tenant_id, owner_id, owner_kind, balance, version, created_at, updated_at
FROM wallets
WHERE owner_id = $1 AND tenant_id = $1 AND owner_kind = 'agency'
`
	w, err := scanWallet(s.db.QueryRowContext(ctx, q, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, apperr.NotFound("agency wallet", tenantID)
	}
	return w, err
}

const entryColumns = `id, wallet_id, seq, kind, direction, amount, balance_before, balance_after, reference_kind, reference_id, created_at`

func (s *PostgresStore) ListEntries(ctx context.Context, walletID string, page Page) ([]Entry, error) {
	page = page.Normalize()
	q := `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE wallet_id = $1
ORDER BY seq DESC
LIMIT $2 OFFSET $3
`
	return s.queryEntries(ctx, q, walletID, page.Size, page.Offset())
}

func (s *PostgresStore) ListEntriesBetween(ctx context.Context, walletID string, from, to time.Time) ([]Entry, error) {
	q := `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE wallet_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY seq ASC
`
	return s.queryEntries(ctx, q, walletID, from, to)
}

func (s *PostgresStore) LastEntryAt(ctx context.Context, walletID string, at time.Time) (Entry, bool, error) {
	q := `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE wallet_id = $1 AND created_at <= $2
ORDER BY seq DESC
LIMIT 1
`
	e, err := scanEntry(s.db.QueryRowContext(ctx, q, walletID, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) EntriesByReference(ctx context.Context, kind ReferenceKind, id string) ([]Entry, error) {
	q := `SELECT ` + entryColumns + `
FROM ledger_entries
WHERE reference_kind = $1 AND reference_id = $2
ORDER BY created_at ASC, wallet_id ASC, seq ASC
`
	return s.queryEntries(ctx, q, kind, id)
}

func (s *PostgresStore) queryEntries(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRequest(ctx context.Context, kind RequestKind, id string) (Request, error) {
	q, err := requestSelect(kind, "WHERE id = $1")
	if err != nil {
		return nil, err
	}
	r, err := scanRequest(kind, s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(kind)+" request", id)
	}
	return r, err
}

func (s *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	page := f.Page.Normalize()
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.WalletID != "" {
		add("wallet_id", f.WalletID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, page.Size, page.Offset())
	tail := fmt.Sprintf("%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", where, len(args)-1, len(args))

	q, err := requestSelect(f.Kind, tail)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(f.Kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCoupons(ctx context.Context, ownerID string) (CouponBalance, error) {
	const q = `
SELECT owner_id, balance, updated_at
FROM coupon_balances
WHERE owner_id = $1
`
	var b CouponBalance
	err := s.db.QueryRowContext(ctx, q, ownerID).Scan(&b.OwnerID, &b.Balance, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CouponBalance{OwnerID: ownerID}, nil
	}
	return b, err
}

func (s *PostgresStore) ListCouponEntries(ctx context.Context, ownerID string, page Page) ([]CouponEntry, error) {
	page = page.Normalize()
	const q = `
SELECT id, owner_id, op, quantity, balance_before, balance_after, actor_id, note, created_at
FROM coupon_entries
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`
	rows, err := s.db.QueryContext(ctx, q, ownerID, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CouponEntry
	for rows.Next() {
		var e CouponEntry
		if err := rows.Scan(
			&e.ID,
			&e.OwnerID,
			&e.Op,
			&e.Quantity,
			&e.BalanceBefore,
			&e.BalanceAfter,
			&e.ActorID,
			&e.Note,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// pgTx implements Tx on one database/sql transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertWallet(ctx context.Context, w Wallet) error {
	const q = `
INSERT INTO wallets (id, tenant_id, owner_id, owner_kind, balance, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := t.tx.ExecContext(ctx, q,
		w.ID,
		w.TenantID,
		w.OwnerID,
		w.OwnerKind,
		w.Balance,
		w.Version,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if c, ok := utils.UniqueViolation(err); ok && c == constraintWalletOwner {
		return ErrOwnerExists
	}
	return err
}

func (t *pgTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	// Row lock serializes every posting on this wallet until commit.
	const q = `
SELECT id, tenant_id, owner_id, owner_kind, balance, version, created_at, updated_at
FROM wallets
WHERE id = $1
FOR UPDATE
`
	w, err := scanWallet(t.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, apperr.NotFound("wallet", id)
	}
	return w, err
}

func (t *pgTx) SetBalance(ctx context.Context, id string, balance decimal.Decimal, version int64, at time.Time) error {
	const q = `
UPDATE wallets
SET balance = $2, version = $3, updated_at = $4
WHERE id = $1 AND version = $3 - 1
`
	res, err := t.tx.ExecContext(ctx, q, id, balance, version, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: wallet %s moved past version %d", apperr.ErrConcurrencyConflict, id, version-1)
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e Entry) error {
	q := `INSERT INTO ledger_entries (` + entryColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := t.tx.ExecContext(ctx, q,
		e.ID,
		e.WalletID,
		e.Seq,
		e.Kind,
		e.Direction,
		e.Amount,
		e.BalanceBefore,
		e.BalanceAfter,
		e.ReferenceKind,
		e.ReferenceID,
		e.CreatedAt,
	)
	if c, ok := utils.UniqueViolation(err); ok && c == constraintEntryRef {
		return ErrDuplicateEntry
	}
	return err
}

func (t *pgTx) InsertRequest(ctx context.Context, r Request) error {
	var err error
	switch v := r.(type) {
	case *DepositRequest:
		const q = `
INSERT INTO deposit_requests (
  id, tenant_id, wallet_id, status, created_by, created_at,
  amount, payment_method, external_transaction_id, proof_ref
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
		_, err = t.tx.ExecContext(ctx, q,
			v.ID, v.TenantID, v.WalletID, v.Status, v.CreatedBy, v.CreatedAt,
			v.Amount, v.PaymentMethod, v.ExternalTransactionID, v.ProofRef,
		)
		if c, ok := utils.UniqueViolation(err); ok && c == constraintExternalTx {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateTransaction, v.ExternalTransactionID)
		}
	case *RechargeRequest:
		const q = `
INSERT INTO recharge_requests (
  id, tenant_id, wallet_id, status, created_by, created_at,
  ad_account_id, amount, commission_rate, commission_wallet_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''))
`
		_, err = t.tx.ExecContext(ctx, q,
			v.ID, v.TenantID, v.WalletID, v.Status, v.CreatedBy, v.CreatedAt,
			v.AdAccountID, v.Amount, v.CommissionRate, v.CommissionWalletID,
		)
	case *ApplicationRequest:
		const q = `
INSERT INTO application_requests (
  id, tenant_id, wallet_id, status, created_by, created_at,
  platform, opening_fee, deposit_amount, total_cost
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
		_, err = t.tx.ExecContext(ctx, q,
			v.ID, v.TenantID, v.WalletID, v.Status, v.CreatedBy, v.CreatedAt,
			v.Platform, v.OpeningFee, v.DepositAmount, v.TotalCost,
		)
	default:
		return fmt.Errorf("ledger: unsupported request %T", r)
	}
	return err
}

func (t *pgTx) LockRequest(ctx context.Context, kind RequestKind, id string) (Request, error) {
	q, err := requestSelect(kind, "WHERE id = $1 FOR UPDATE")
	if err != nil {
		return nil, err
	}
	r, err := scanRequest(kind, t.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(string(kind)+" request", id)
	}
	return r, err
}

func (t *pgTx) SaveDecision(ctx context.Context, r Request) error {
	b := r.Base()
	if !b.Status.Terminal() {
		return apperr.Validation("decision must be terminal, got %q", b.Status)
	}
	table, err := requestTable(r.Kind())
	if err != nil {
		return err
	}

	var (
		fee, net decimal.NullDecimal
	)
	if rr, ok := r.(*RechargeRequest); ok {
		if rr.CommissionAmount != nil {
			fee = decimal.NewNullDecimal(*rr.CommissionAmount)
		}
		if rr.NetAmount != nil {
			net = decimal.NewNullDecimal(*rr.NetAmount)
		}
	}

	var res sql.Result
	if r.Kind() == KindRecharge {
		const q = `
UPDATE recharge_requests
SET status = $2, decided_at = $3, decided_by = $4, decision_reason = $5,
    commission_amount = $6, net_amount = $7
WHERE id = $1 AND status = 'pending'
`
		res, err = t.tx.ExecContext(ctx, q, b.ID, b.Status, b.DecidedAt, b.DecidedBy, b.DecisionReason, fee, net)
	} else {
		q := `
UPDATE ` + table + `
SET status = $2, decided_at = $3, decided_by = $4, decision_reason = $5
WHERE id = $1 AND status = 'pending'
`
		res, err = t.tx.ExecContext(ctx, q, b.ID, b.Status, b.DecidedAt, b.DecidedBy, b.DecisionReason)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s %s", apperr.ErrInvalidStateTransition, r.Kind(), b.ID)
	}
	return nil
}

func (t *pgTx) LockCoupons(ctx context.Context, ownerID string, at time.Time) (CouponBalance, error) {
	// Materialize the row so the first Give for an owner is also serialized.
	const ensure = `
INSERT INTO coupon_balances (owner_id, balance, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (owner_id) DO NOTHING
`
	if _, err := t.tx.ExecContext(ctx, ensure, ownerID, at); err != nil {
		return CouponBalance{}, err
	}
	const q = `
SELECT owner_id, balance, updated_at
FROM coupon_balances
WHERE owner_id = $1
FOR UPDATE
`
	var b CouponBalance
	if err := t.tx.QueryRowContext(ctx, q, ownerID).Scan(&b.OwnerID, &b.Balance, &b.UpdatedAt); err != nil {
		return CouponBalance{}, err
	}
	return b, nil
}

func (t *pgTx) SetCoupons(ctx context.Context, b CouponBalance) error {
	const q = `
UPDATE coupon_balances
SET balance = $2, updated_at = $3
WHERE owner_id = $1
`
	_, err := t.tx.ExecContext(ctx, q, b.OwnerID, b.Balance, b.UpdatedAt)
	return err
}

func (t *pgTx) InsertCouponEntry(ctx context.Context, e CouponEntry) error {
	const q = `
INSERT INTO coupon_entries (id, owner_id, op, quantity, balance_before, balance_after, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := t.tx.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		e.Op,
		e.Quantity,
		e.BalanceBefore,
		e.BalanceAfter,
		e.ActorID,
		e.Note,
		e.CreatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	err := row.Scan(
		&w.ID,
		&w.TenantID,
		&w.OwnerID,
		&w.OwnerKind,
		&w.Balance,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.WalletID,
		&e.Seq,
		&e.Kind,
		&e.Direction,
		&e.Amount,
		&e.BalanceBefore,
		&e.BalanceAfter,
		&e.ReferenceKind,
		&e.ReferenceID,
		&e.CreatedAt,
	)
	return e, err
}

func requestTable(kind RequestKind) (string, error) {
	switch kind {
	case KindDeposit:
		return "deposit_requests", nil
	case KindRecharge:
		return "recharge_requests", nil
	case KindApplication:
		return "application_requests", nil
	default:
		return "", apperr.Validation("unknown request kind %q", kind)
	}
}

const requestBaseColumns = `id, tenant_id, wallet_id, status, created_by, created_at, decided_at, decided_by, decision_reason`

func requestSelect(kind RequestKind, tail string) (string, error) {
	var extra string
	switch kind {
	case KindDeposit:
		extra = `amount, payment_method, external_transaction_id, proof_ref`
	case KindRecharge:
		extra = `ad_account_id, amount, commission_rate, commission_amount, net_amount, COALESCE(commission_wallet_id, '')`
	case KindApplication:
		extra = `platform, opening_fee, deposit_amount, total_cost`
	}
	table, err := requestTable(kind)
	if err != nil {
		return "", err
	}
	return `SELECT ` + requestBaseColumns + `, ` + extra + ` FROM ` + table + ` ` + tail, nil
}

func scanRequest(kind RequestKind, row rowScanner) (Request, error) {
	var (
		b         RequestBase
		decidedAt sql.NullTime
	)
	base := []any{
		&b.ID,
		&b.TenantID,
		&b.WalletID,
		&b.Status,
		&b.CreatedBy,
		&b.CreatedAt,
		&decidedAt,
		&b.DecidedBy,
		&b.DecisionReason,
	}
	finish := func() {
		if decidedAt.Valid {
			t := decidedAt.Time
			b.DecidedAt = &t
		}
	}

	switch kind {
	case KindDeposit:
		r := &DepositRequest{}
		if err := row.Scan(append(base, &r.Amount, &r.PaymentMethod, &r.ExternalTransactionID, &r.ProofRef)...); err != nil {
			return nil, err
		}
		finish()
		r.RequestBase = b
		return r, nil
	case KindRecharge:
		r := &RechargeRequest{}
		var fee, net decimal.NullDecimal
		if err := row.Scan(append(base, &r.AdAccountID, &r.Amount, &r.CommissionRate, &fee, &net, &r.CommissionWalletID)...); err != nil {
			return nil, err
		}
		finish()
		r.RequestBase = b
		if fee.Valid {
			r.CommissionAmount = &fee.Decimal
		}
		if net.Valid {
			r.NetAmount = &net.Decimal
		}
		return r, nil
	case KindApplication:
		r := &ApplicationRequest{}
		if err := row.Scan(append(base, &r.Platform, &r.OpeningFee, &r.DepositAmount, &r.TotalCost)...); err != nil {
			return nil, err
		}
		finish()
		r.RequestBase = b
		return r, nil
	default:
		return nil, apperr.Validation("unknown request kind %q", kind)
	}
}
