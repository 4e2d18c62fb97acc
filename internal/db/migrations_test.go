package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTempDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, ctx
}

func TestApplyAndRollbackMigrations(t *testing.T) {
	db, ctx := openTempDB(t)
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	mustExist := []string{"timers", "timer_changes"}
	for _, table := range mustExist {
		var name string
		if err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name); err != nil {
			t.Fatalf("expected table %s to exist: %v", table, err)
		}
	}

	if err := RollbackAll(ctx, db); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}

	for _, table := range mustExist {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count); err != nil {
			t.Fatalf("count table %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("table %s still exists after rollback", table)
		}
	}
}

func TestCoreConstraints(t *testing.T) {
	db, ctx := openTempDB(t)
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx, `INSERT INTO timers(timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, accumulated_paused_seconds, created_at, updated_at) VALUES('t1','v1','Soup','countdown',600,'running','chime',0,'','','',?,0,?,?)`, now, now, now)
	if err != nil {
		t.Fatalf("insert timer: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO timers(timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, accumulated_paused_seconds, created_at, updated_at) VALUES('t2','v1','','countdown',600,'running','chime',0,'','','',?,0,?,?)`, now, now, now)
	if err == nil {
		t.Fatalf("expected label check constraint failure")
	}
	_, err = db.ExecContext(ctx, `INSERT INTO timers(timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, accumulated_paused_seconds, created_at, updated_at) VALUES('t3','v1','Fries','stopwatch',600,'running','chime',0,'','','',?,0,?,?)`, now, now, now)
	if err == nil {
		t.Fatalf("expected timer_type check constraint failure")
	}
	_, err = db.ExecContext(ctx, `INSERT INTO timers(timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, accumulated_paused_seconds, created_at, updated_at) VALUES('t4','v1','Fries','countdown',600,'pending','chime',0,'','','',?,0,?,?)`, now, now, now)
	if err == nil {
		t.Fatalf("expected status check constraint failure")
	}

	_, err = db.ExecContext(ctx, `INSERT INTO timer_changes(change_id, venue_id, timer_id, kind, payload, recorded_at) VALUES('c1','v1','t1','insert','{}',?)`, now)
	if err != nil {
		t.Fatalf("insert change: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO timer_changes(change_id, venue_id, timer_id, kind, payload, recorded_at) VALUES('c1','v1','t1','update','{}',?)`, now)
	if err == nil {
		t.Fatalf("expected unique violation on change_id")
	}
	_, err = db.ExecContext(ctx, `INSERT INTO timer_changes(change_id, venue_id, timer_id, kind, payload, recorded_at) VALUES('c2','v1','t1','upserted','{}',?)`, now)
	if err == nil {
		t.Fatalf("expected kind check constraint failure")
	}
}
