package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - stories table
// 2 - stories.pending column, subscriptions table
const currentSchemaVersion = 2

// applySchema creates the base schema and runs the migrations above the stored user_version.
// It is idempotent and never drops rows.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to get user_version")
	}
	if version < 1 {
		version = 1
	}
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return errors.Wrap(err, "failed to set user_version")
	}
	return nil
}

func migrateToV2(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to migrate to v2")
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`ALTER TABLE stories ADD COLUMN pending INTEGER NOT NULL DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			identity   TEXT PRIMARY KEY,
			endpoint   TEXT NOT NULL,
			p256dh     TEXT NOT NULL,
			auth       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil && !isAlreadyExistsError(err) {
			return errors.Wrap(err, "failed to migrate to v2")
		}
	}
	return tx.Commit()
}

// isAlreadyExistsError reports whether this error indicates idempotent DDL success.
func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
