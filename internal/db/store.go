package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/prepline/kitchend/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidTimer = errors.New("invalid timer")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// ApplyUpsert writes a full timer record with last-writer-wins semantics:
// a payload older than the stored updated_at is dropped. On apply it also
// appends the matching change-log row in the same transaction. The returned
// bool reports whether anything changed.
func (s *Store) ApplyUpsert(ctx context.Context, t model.Timer) (model.Change, bool, error) {
	if err := validateTimer(t); err != nil {
		return model.Change{}, false, err
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Change{}, false, fmt.Errorf("begin upsert tx: %w", err)
	}

	kind := model.ChangeInsert
	current, err := getTimerTx(ctx, tx, t.ID)
	switch {
	case err == nil:
		if current.VenueID != t.VenueID {
			tx.Rollback() //nolint:errcheck
			return model.Change{}, false, fmt.Errorf("timer %s belongs to another venue", t.ID)
		}
		if t.UpdatedAt.Before(current.UpdatedAt) {
			tx.Rollback() //nolint:errcheck
			return model.Change{}, false, nil
		}
		kind = model.ChangeUpdate
		t.CreatedAt = current.CreatedAt
	case errors.Is(err, ErrNotFound):
	default:
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO timers(timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, paused_at, accumulated_paused_seconds, snoozed_until, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(timer_id) DO UPDATE SET
	label=excluded.label,
	timer_type=excluded.timer_type,
	duration_seconds=excluded.duration_seconds,
	status=excluded.status,
	alert_type=excluded.alert_type,
	critical=excluded.critical,
	station=excluded.station,
	notes=excluded.notes,
	icon=excluded.icon,
	started_at=excluded.started_at,
	paused_at=excluded.paused_at,
	accumulated_paused_seconds=excluded.accumulated_paused_seconds,
	snoozed_until=excluded.snoozed_until,
	updated_at=excluded.updated_at
`, t.ID, t.VenueID, t.Label, string(t.Type), t.DurationSeconds, string(t.Status), string(t.AlertType), boolToInt(t.Critical), t.Station, t.Notes, t.Icon, ts(t.StartedAt), nullableTS(t.PausedAt), t.AccumulatedPausedSecs, nullableTS(t.SnoozedUntil), ts(t.CreatedAt), ts(t.UpdatedAt)); err != nil {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, fmt.Errorf("upsert timer: %w", err)
	}

	change, err := appendChangeTx(ctx, tx, kind, t)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Change{}, false, fmt.Errorf("commit upsert tx: %w", err)
	}
	return change, true, nil
}

// ApplyDelete removes a timer and appends the delete change row. A missing
// id is a silent no-op.
func (s *Store) ApplyDelete(ctx context.Context, venueID, timerID string) (model.Change, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Change{}, false, fmt.Errorf("begin delete tx: %w", err)
	}
	current, err := getTimerTx(ctx, tx, timerID)
	if errors.Is(err, ErrNotFound) {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, nil
	}
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, err
	}
	if current.VenueID != venueID {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM timers WHERE timer_id = ?`, timerID); err != nil {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, fmt.Errorf("delete timer: %w", err)
	}
	change, err := appendChangeTx(ctx, tx, model.ChangeDelete, current)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return model.Change{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Change{}, false, fmt.Errorf("commit delete tx: %w", err)
	}
	return change, true, nil
}

func (s *Store) GetTimer(ctx context.Context, timerID string) (model.Timer, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE timer_id = ?
`, timerID)
	return scanTimer(row)
}

func (s *Store) ListTimers(ctx context.Context, venueID string) ([]model.Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE venue_id = ?
ORDER BY created_at ASC, timer_id ASC
`, venueID)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	out := make([]model.Timer, 0)
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter timers: %w", err)
	}
	return out, nil
}

// ListActiveCountdowns returns every running or complete countdown across
// all venues; the sweep loop drives its transitions from this set.
func (s *Store) ListActiveCountdowns(ctx context.Context) ([]model.Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE timer_type = 'countdown' AND status IN ('running','complete')
ORDER BY venue_id ASC, timer_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list active countdowns: %w", err)
	}
	defer rows.Close()

	out := make([]model.Timer, 0)
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter active countdowns: %w", err)
	}
	return out, nil
}

func (s *Store) ListChangesSince(ctx context.Context, venueID string, sinceSeq int64, limit int) ([]model.Change, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, change_id, venue_id, timer_id, kind, payload, recorded_at
FROM timer_changes
WHERE venue_id = ? AND seq > ?
ORDER BY seq ASC
LIMIT ?
`, venueID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	out := make([]model.Change, 0)
	for rows.Next() {
		var (
			c          model.Change
			kind       string
			payload    string
			recordedAt string
		)
		if err := rows.Scan(&c.Seq, &c.ChangeID, &c.VenueID, &c.TimerID, &kind, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Kind = model.ChangeKind(kind)
		c.RecordedAt, err = parseTS(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse change recorded_at: %w", err)
		}
		t, err := decodeTimerPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("decode change payload: %w", err)
		}
		c.Timer = &t
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter changes: %w", err)
	}
	return out, nil
}

func (s *Store) LatestChangeSeq(ctx context.Context, venueID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM timer_changes WHERE venue_id = ?`, venueID)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("scan latest change seq: %w", err)
	}
	return seq, nil
}

// OldestChangeSeq reports the earliest retained change for a venue. A cursor
// older than this cannot be resumed and the caller must resync from a
// snapshot.
func (s *Store) OldestChangeSeq(ctx context.Context, venueID string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT MIN(seq) FROM timer_changes WHERE venue_id = ?`, venueID)
	var seq sql.NullInt64
	if err := row.Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("scan oldest change seq: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return seq.Int64, true, nil
}

func (s *Store) PurgeChanges(ctx context.Context, cutoff time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timer_changes WHERE recorded_at < ?`, ts(cutoff)); err != nil {
		return fmt.Errorf("purge changes: %w", err)
	}
	return nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return count, nil
}

const timerColumns = `timer_id, venue_id, label, timer_type, duration_seconds, status, alert_type, critical, station, notes, icon, started_at, paused_at, accumulated_paused_seconds, snoozed_until, created_at, updated_at`

func getTimerTx(ctx context.Context, tx *sql.Tx, timerID string) (model.Timer, error) {
	row := tx.QueryRowContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE timer_id = ?
`, timerID)
	return scanTimer(row)
}

func appendChangeTx(ctx context.Context, tx *sql.Tx, kind model.ChangeKind, t model.Timer) (model.Change, error) {
	payload, err := encodeTimerPayload(t)
	if err != nil {
		return model.Change{}, err
	}
	recordedAt := time.Now().UTC()
	changeID := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
INSERT INTO timer_changes(change_id, venue_id, timer_id, kind, payload, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)
`, changeID, t.VenueID, t.ID, string(kind), payload, ts(recordedAt))
	if err != nil {
		return model.Change{}, fmt.Errorf("append change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Change{}, fmt.Errorf("change seq: %w", err)
	}
	timer := t.Clone()
	return model.Change{
		Seq:        seq,
		ChangeID:   changeID,
		VenueID:    t.VenueID,
		TimerID:    t.ID,
		Kind:       kind,
		Timer:      &timer,
		RecordedAt: recordedAt,
	}, nil
}

func scanTimer(scanner interface{ Scan(dest ...any) error }) (model.Timer, error) {
	var (
		t            model.Timer
		timerType    string
		status       string
		alertType    string
		critical     int
		startedAt    string
		pausedAt     sql.NullString
		snoozedUntil sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := scanner.Scan(
		&t.ID,
		&t.VenueID,
		&t.Label,
		&timerType,
		&t.DurationSeconds,
		&status,
		&alertType,
		&critical,
		&t.Station,
		&t.Notes,
		&t.Icon,
		&startedAt,
		&pausedAt,
		&t.AccumulatedPausedSecs,
		&snoozedUntil,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Timer{}, ErrNotFound
		}
		return model.Timer{}, fmt.Errorf("scan timer: %w", err)
	}
	t.Type = model.TimerType(timerType)
	t.Status = model.TimerStatus(status)
	t.AlertType = model.AlertType(alertType)
	t.Critical = critical == 1
	var err error
	t.StartedAt, err = parseTS(startedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse timer started_at: %w", err)
	}
	if pausedAt.Valid {
		v, err := parseTS(pausedAt.String)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse timer paused_at: %w", err)
		}
		t.PausedAt = &v
	}
	if snoozedUntil.Valid {
		v, err := parseTS(snoozedUntil.String)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse timer snoozed_until: %w", err)
		}
		t.SnoozedUntil = &v
	}
	t.CreatedAt, err = parseTS(createdAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse timer created_at: %w", err)
	}
	t.UpdatedAt, err = parseTS(updatedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse timer updated_at: %w", err)
	}
	return t, nil
}

type timerPayload struct {
	ID                    string  `json:"timer_id"`
	VenueID               string  `json:"venue_id"`
	Label                 string  `json:"label"`
	Type                  string  `json:"timer_type"`
	DurationSeconds       int64   `json:"duration_seconds"`
	Status                string  `json:"status"`
	AlertType             string  `json:"alert_type"`
	Critical              bool    `json:"critical"`
	Station               string  `json:"station,omitempty"`
	Notes                 string  `json:"notes,omitempty"`
	Icon                  string  `json:"icon,omitempty"`
	StartedAt             string  `json:"started_at"`
	PausedAt              *string `json:"paused_at,omitempty"`
	AccumulatedPausedSecs int64   `json:"accumulated_paused_seconds"`
	SnoozedUntil          *string `json:"snoozed_until,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

func encodeTimerPayload(t model.Timer) (string, error) {
	p := timerPayload{
		ID:                    t.ID,
		VenueID:               t.VenueID,
		Label:                 t.Label,
		Type:                  string(t.Type),
		DurationSeconds:       t.DurationSeconds,
		Status:                string(t.Status),
		AlertType:             string(t.AlertType),
		Critical:              t.Critical,
		Station:               t.Station,
		Notes:                 t.Notes,
		Icon:                  t.Icon,
		StartedAt:             ts(t.StartedAt),
		AccumulatedPausedSecs: t.AccumulatedPausedSecs,
		CreatedAt:             ts(t.CreatedAt),
		UpdatedAt:             ts(t.UpdatedAt),
	}
	if t.PausedAt != nil {
		v := ts(*t.PausedAt)
		p.PausedAt = &v
	}
	if t.SnoozedUntil != nil {
		v := ts(*t.SnoozedUntil)
		p.SnoozedUntil = &v
	}
	buf, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal timer payload: %w", err)
	}
	return string(buf), nil
}

func decodeTimerPayload(raw string) (model.Timer, error) {
	var p timerPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Timer{}, fmt.Errorf("unmarshal timer payload: %w", err)
	}
	t := model.Timer{
		ID:                    p.ID,
		VenueID:               p.VenueID,
		Label:                 p.Label,
		Type:                  model.TimerType(p.Type),
		DurationSeconds:       p.DurationSeconds,
		Status:                model.TimerStatus(p.Status),
		AlertType:             model.AlertType(p.AlertType),
		Critical:              p.Critical,
		Station:               p.Station,
		Notes:                 p.Notes,
		Icon:                  p.Icon,
		AccumulatedPausedSecs: p.AccumulatedPausedSecs,
	}
	var err error
	t.StartedAt, err = parseTS(p.StartedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse payload started_at: %w", err)
	}
	if p.PausedAt != nil {
		v, err := parseTS(*p.PausedAt)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse payload paused_at: %w", err)
		}
		t.PausedAt = &v
	}
	if p.SnoozedUntil != nil {
		v, err := parseTS(*p.SnoozedUntil)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse payload snoozed_until: %w", err)
		}
		t.SnoozedUntil = &v
	}
	t.CreatedAt, err = parseTS(p.CreatedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse payload created_at: %w", err)
	}
	t.UpdatedAt, err = parseTS(p.UpdatedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse payload updated_at: %w", err)
	}
	return t, nil
}

func validateTimer(t model.Timer) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: timer_id is required", ErrInvalidTimer)
	}
	if strings.TrimSpace(t.VenueID) == "" {
		return fmt.Errorf("%w: venue_id is required", ErrInvalidTimer)
	}
	if strings.TrimSpace(t.Label) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidTimer)
	}
	if t.Type != model.TypeCountdown && t.Type != model.TypeCountUp {
		return fmt.Errorf("%w: timer_type must be countdown or count_up", ErrInvalidTimer)
	}
	if t.Type == model.TypeCountdown && t.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be positive for countdown timers", ErrInvalidTimer)
	}
	if !model.ValidAlertType(t.AlertType) {
		return fmt.Errorf("%w: alert_type must be chime, bell, buzzer, or silent", ErrInvalidTimer)
	}
	if t.StartedAt.IsZero() {
		return fmt.Errorf("%w: started_at is required", ErrInvalidTimer)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
