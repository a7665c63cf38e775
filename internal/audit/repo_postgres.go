package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table carries a trigger refusing UPDATE/DELETE.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, tenant_id, type, actor_id, actor_role, ip_address,
  wallet_id, owner_id, request_kind, request_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12,'')::jsonb,$13
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		e.Type,
		e.ActorID,
		e.ActorRole,
		e.IPAddress,
		e.WalletID,
		e.OwnerID,
		e.RequestKind,
		e.RequestID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
