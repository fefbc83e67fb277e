package store

import (
	"context"
	"fmt"
)

var schema = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS accounts (
			id         INTEGER PRIMARY KEY,
			api_key    TEXT,
			api_secret TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id          INTEGER NOT NULL REFERENCES accounts(id),
			symbol              TEXT    NOT NULL,
			start_size          TEXT    NOT NULL,
			sizing_mode         TEXT    NOT NULL DEFAULT 'absolute',
			leverage            INTEGER NOT NULL,
			multiplier          TEXT    NOT NULL,
			take_profit_percent TEXT    NOT NULL,
			rebuy_percent       TEXT    NOT NULL,
			max_rebuys          INTEGER NOT NULL DEFAULT 0,
			status              TEXT    NOT NULL DEFAULT 'idle',
			updated_at          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS accounts (
			id         BIGINT PRIMARY KEY,
			api_key    TEXT,
			api_secret TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id                  BIGSERIAL PRIMARY KEY,
			account_id          BIGINT  NOT NULL REFERENCES accounts(id),
			symbol              TEXT    NOT NULL,
			start_size          NUMERIC NOT NULL,
			sizing_mode         TEXT    NOT NULL DEFAULT 'absolute',
			leverage            INTEGER NOT NULL,
			multiplier          NUMERIC NOT NULL,
			take_profit_percent NUMERIC NOT NULL,
			rebuy_percent       NUMERIC NOT NULL,
			max_rebuys          INTEGER NOT NULL DEFAULT 0,
			status              TEXT    NOT NULL DEFAULT 'idle',
			updated_at          BIGINT  NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status)`,
	},
}

// Migrate creates the tables if they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, ok := schema[s.dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", s.dialect)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
