package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"adledger/pkg/utils"
)

//go:embed sql/*.sql
var files embed.FS

// Versions lists the embedded migrations in apply order.
func Versions() ([]string, error) {
	return versions(files)
}

func versions(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, strings.TrimSuffix(e.Name(), ".sql"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Run applies every embedded migration that is not yet recorded in
// schema_migrations. Each file runs in its own transaction with its record.
func Run(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	vs, err := Versions()
	if err != nil {
		return err
	}
	for _, v := range vs {
		var applied bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, v).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", v, err)
		}
		if applied {
			continue
		}

		body, err := fs.ReadFile(files, "sql/"+v+".sql")
		if err != nil {
			return fmt.Errorf("read migration %s: %w", v, err)
		}
		log.Info("applying migration", "version", v)
		err = utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", v, err)
		}
	}
	return nil
}
