package store

import (
	"context"
	"database/sql"
	"fmt"
)

// dialect holds the statements that differ between postgres and duckdb.
type dialect struct {
	name       string
	migrations []string
	// lockRow is appended to the SELECT that reads a row before rewriting it.
	lockRow string
}

var postgresDialect = dialect{
	name: "postgres",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			email      TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS excel_files (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			original_name TEXT NOT NULL,
			stored_name   TEXT NOT NULL,
			size          BIGINT NOT NULL,
			status        TEXT NOT NULL,
			sheets        BYTEA,
			metadata      JSONB,
			charts        JSONB,
			error_message TEXT NOT NULL DEFAULT '',
			uploaded_at   TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_excel_files_owner ON excel_files (owner_id, uploaded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_excel_files_status ON excel_files (status)`,
	},
	lockRow: " FOR UPDATE",
}

var duckdbDialect = dialect{
	name: "duckdb",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         VARCHAR PRIMARY KEY,
			username   VARCHAR NOT NULL,
			email      VARCHAR NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS excel_files (
			id            VARCHAR PRIMARY KEY,
			owner_id      VARCHAR NOT NULL,
			original_name VARCHAR NOT NULL,
			stored_name   VARCHAR NOT NULL,
			size          BIGINT NOT NULL,
			status        VARCHAR NOT NULL,
			sheets        BLOB,
			metadata      VARCHAR,
			charts        VARCHAR,
			error_message VARCHAR NOT NULL DEFAULT '',
			uploaded_at   TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_excel_files_owner ON excel_files (owner_id, uploaded_at)`,
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres":
		return postgresDialect, nil
	case "duckdb":
		return duckdbDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// migrate creates the schema. Every statement is idempotent.
func (d dialect) migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range d.migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migration %d: %w", d.name, i, err)
		}
	}
	return nil
}
