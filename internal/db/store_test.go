package db_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prepline/kitchend/internal/db"
	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/testutil"
)

var base = time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

func TestUpsertGetRoundTrip(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	timer := testutil.NewTimer("venue-1", "Braise", 2700, base)
	pausedAt := base.Add(time.Minute)
	timer.Status = model.StatusPaused
	timer.PausedAt = &pausedAt
	timer.AccumulatedPausedSecs = 30
	timer.Critical = true
	timer.Station = "grill"
	timer.Notes = "rack 2"
	timer.Icon = "pot"

	change, applied, err := store.ApplyUpsert(ctx, timer)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !applied || change.Kind != model.ChangeInsert {
		t.Fatalf("applied=%v kind=%s, want true/insert", applied, change.Kind)
	}

	got, err := store.GetTimer(ctx, timer.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "Braise" || got.Status != model.StatusPaused || !got.Critical {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.PausedAt == nil || !got.PausedAt.Equal(pausedAt) {
		t.Fatalf("paused_at = %v, want %v", got.PausedAt, pausedAt)
	}
	if got.AccumulatedPausedSecs != 30 || got.Station != "grill" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestUpsertValidation(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	bad := testutil.NewTimer("venue-1", "", 600, base)
	if _, _, err := store.ApplyUpsert(ctx, bad); !errors.Is(err, db.ErrInvalidTimer) {
		t.Fatalf("err = %v, want ErrInvalidTimer", err)
	}
	if n, _ := store.CountRows(ctx, "timers"); n != 0 {
		t.Fatalf("invalid upsert stored a row")
	}
}

func TestUpsertLastWriterWins(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	timer := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))

	newer := timer
	newer.Label = "Soup (big batch)"
	newer.UpdatedAt = base.Add(10 * time.Second)
	if _, applied, err := store.ApplyUpsert(ctx, newer); err != nil || !applied {
		t.Fatalf("newer write: applied=%v err=%v", applied, err)
	}

	stale := timer
	stale.Label = "stale label"
	stale.UpdatedAt = base.Add(5 * time.Second)
	_, applied, err := store.ApplyUpsert(ctx, stale)
	if err != nil {
		t.Fatalf("stale write: %v", err)
	}
	if applied {
		t.Fatalf("stale write was applied")
	}

	got, _ := store.GetTimer(ctx, timer.ID)
	if got.Label != "Soup (big batch)" {
		t.Fatalf("label = %q, want newer write retained", got.Label)
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	timer := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))

	update := timer
	update.UpdatedAt = base.Add(time.Minute)
	update.CreatedAt = base.Add(time.Hour)
	if _, _, err := store.ApplyUpsert(ctx, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.GetTimer(ctx, timer.ID)
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v, want original %v", got.CreatedAt, base)
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	_, applied, err := store.ApplyDelete(ctx, "venue-1", "missing")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if applied {
		t.Fatalf("delete of unknown id reported applied")
	}
}

func TestDeleteOtherVenueIsNoop(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	timer := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))
	_, applied, err := store.ApplyDelete(ctx, "venue-2", timer.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if applied {
		t.Fatalf("cross-venue delete was applied")
	}
	if _, err := store.GetTimer(ctx, timer.ID); err != nil {
		t.Fatalf("record vanished: %v", err)
	}
}

func TestChangeLogSequenceAndPayloads(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	timer := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))

	update := timer
	update.Status = model.StatusComplete
	update.UpdatedAt = base.Add(600 * time.Second)
	if _, _, err := store.ApplyUpsert(ctx, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, _, err := store.ApplyDelete(ctx, "venue-1", timer.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	changes, err := store.ListChangesSince(ctx, "venue-1", 0, 100)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("changes = %d, want 3", len(changes))
	}
	wantKinds := []model.ChangeKind{model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete}
	var prevSeq int64
	for i, c := range changes {
		if c.Seq <= prevSeq {
			t.Fatalf("seq not increasing: %d after %d", c.Seq, prevSeq)
		}
		prevSeq = c.Seq
		if c.Kind != wantKinds[i] {
			t.Fatalf("kind[%d] = %s, want %s", i, c.Kind, wantKinds[i])
		}
		if c.Timer == nil || c.Timer.ID != timer.ID {
			t.Fatalf("change %d missing timer payload", i)
		}
	}
	// The delete row carries the last-known record.
	if changes[2].Timer.Status != model.StatusComplete {
		t.Fatalf("delete payload status = %s", changes[2].Timer.Status)
	}
}

func TestChangesAreVenueScoped(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))
	testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-2", "Fries", 180, base))

	changes, err := store.ListChangesSince(ctx, "venue-1", 0, 100)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 1 || changes[0].VenueID != "venue-1" {
		t.Fatalf("venue-1 changes = %+v", changes)
	}

	timers, err := store.ListTimers(ctx, "venue-2")
	if err != nil {
		t.Fatalf("list timers: %v", err)
	}
	if len(timers) != 1 || timers[0].Label != "Fries" {
		t.Fatalf("venue-2 timers = %+v", timers)
	}
}

func TestListChangesSinceCursor(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	first := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))
	testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Fries", 180, base))

	all, err := store.ListChangesSince(ctx, "venue-1", 0, 100)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	rest, err := store.ListChangesSince(ctx, "venue-1", all[0].Seq, 100)
	if err != nil {
		t.Fatalf("list changes since: %v", err)
	}
	if len(rest) != 1 || rest[0].TimerID == first.ID {
		t.Fatalf("cursor did not skip consumed change: %+v", rest)
	}

	latest, err := store.LatestChangeSeq(ctx, "venue-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != all[1].Seq {
		t.Fatalf("latest = %d, want %d", latest, all[1].Seq)
	}
}

func TestListActiveCountdowns(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	running := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))

	paused := testutil.NewTimer("venue-1", "Stock", 600, base)
	pausedAt := base.Add(time.Minute)
	paused.Status = model.StatusPaused
	paused.PausedAt = &pausedAt
	testutil.SeedTimer(t, store, ctx, paused)

	clock := testutil.NewTimer("venue-2", "Prep clock", 0, base)
	clock.Type = model.TypeCountUp
	testutil.SeedTimer(t, store, ctx, clock)

	complete := testutil.NewTimer("venue-2", "Fries", 180, base)
	complete.Status = model.StatusComplete
	testutil.SeedTimer(t, store, ctx, complete)

	active, err := store.ListActiveCountdowns(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	ids := map[string]bool{}
	for _, timer := range active {
		ids[timer.ID] = true
	}
	if len(active) != 2 || !ids[running.ID] || !ids[complete.ID] {
		t.Fatalf("active countdowns = %+v", active)
	}
}

func TestPurgeChanges(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	testutil.SeedTimer(t, store, ctx, testutil.NewTimer("venue-1", "Soup", 600, base))

	if err := store.PurgeChanges(ctx, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n, _ := store.CountRows(ctx, "timer_changes"); n != 0 {
		t.Fatalf("changes after purge = %d, want 0", n)
	}

	// Timers themselves are never purged.
	if n, _ := store.CountRows(ctx, "timers"); n != 1 {
		t.Fatalf("timers after purge = %d, want 1", n)
	}

	if _, ok, err := store.OldestChangeSeq(ctx, "venue-1"); err != nil || ok {
		t.Fatalf("oldest after purge: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestGetTimerNotFound(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	if _, err := store.GetTimer(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
