package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version    int
	statements []string
}

// migrations are applied in order; a shipped entry is never edited, only
// appended to.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				number TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				price TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT 'general',
				stock_qty INTEGER NOT NULL DEFAULT 0 CHECK (stock_qty >= 0),
				active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sales (
				id TEXT PRIMARY KEY,
				product_id TEXT NOT NULL,
				product_name TEXT NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity >= 1),
				unit_price TEXT NOT NULL,
				total_price TEXT NOT NULL,
				sold_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS app_users (
				username TEXT PRIMARY KEY,
				password TEXT NOT NULL,
				role TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS audit_logs (
				id TEXT PRIMARY KEY,
				actor_username TEXT NOT NULL,
				actor_role TEXT NOT NULL,
				action TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales (sold_at)`,
			`CREATE INDEX IF NOT EXISTS idx_products_category_name ON products (category, name)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at)`,
		},
	},
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sqlx.DB, m migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)
	`, m.version, formatTime(time.Now())); err != nil {
		return err
	}
	return tx.Commit()
}
