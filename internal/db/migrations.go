package db

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS timers (
	timer_id TEXT PRIMARY KEY,
	venue_id TEXT NOT NULL,
	label TEXT NOT NULL CHECK(length(label) > 0),
	timer_type TEXT NOT NULL CHECK(timer_type IN ('countdown','count_up')),
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('running','paused','complete','overdue')),
	alert_type TEXT NOT NULL CHECK(alert_type IN ('chime','bell','buzzer','silent')),
	critical INTEGER NOT NULL DEFAULT 0,
	station TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	icon TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	paused_at TEXT,
	accumulated_paused_seconds INTEGER NOT NULL DEFAULT 0,
	snoozed_until TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS timers_venue_updated_at
ON timers(venue_id, updated_at DESC);

CREATE INDEX IF NOT EXISTS timers_venue_status
ON timers(venue_id, status);

CREATE TABLE IF NOT EXISTS timer_changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	change_id TEXT NOT NULL UNIQUE,
	venue_id TEXT NOT NULL,
	timer_id TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('insert','update','delete')),
	payload TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS timer_changes_venue_seq
ON timer_changes(venue_id, seq);

CREATE INDEX IF NOT EXISTS timer_changes_recorded_at
ON timer_changes(recorded_at);
`,
		DownSQL: `
DROP TABLE IF EXISTS timer_changes;
DROP TABLE IF EXISTS timers;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
