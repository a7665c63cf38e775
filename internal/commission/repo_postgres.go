package commission

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads and writes the commission_rates table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindRate(ctx context.Context, tenantID string, at time.Time) (Rate, bool, error) {
	const q = `
SELECT id, tenant_id, percent, effective_from, effective_to, status, created_at
FROM commission_rates
WHERE tenant_id = $1
  AND status = 'active'
  AND effective_from <= $2
  AND (effective_to IS NULL OR effective_to > $2)
ORDER BY effective_from DESC
LIMIT 1
`
	var (
		rate Rate
		to   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, tenantID, at).Scan(
		&rate.ID,
		&rate.TenantID,
		&rate.Percent,
		&rate.EffectiveFrom,
		&to,
		&rate.Status,
		&rate.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rate{}, false, nil
		}
		return Rate{}, false, err
	}
	if to.Valid {
		t := to.Time
		rate.EffectiveTo = &t
	}
	return rate, true, nil
}

func (r *PostgresRepo) InsertRate(ctx context.Context, rate Rate) error {
	const q = `
INSERT INTO commission_rates (id, tenant_id, percent, effective_from, effective_to, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q,
		rate.ID,
		rate.TenantID,
		rate.Percent,
		rate.EffectiveFrom,
		rate.EffectiveTo,
		rate.Status,
		rate.CreatedAt,
	)
	return err
}
