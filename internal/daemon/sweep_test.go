package daemon

import (
	"testing"
	"time"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/testutil"
)

func TestSweeperCompletesThenEscalates(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	var broadcasts []model.Change
	sw := NewSweeper(store, func(c model.Change) { broadcasts = append(broadcasts, c) }, 60*time.Second, time.Second, t.Logf)

	start := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	seed := testutil.NewTimer("line-1", "Braise", 600, start)
	testutil.SeedTimer(t, store, ctx, seed)

	now := start.Add(700 * time.Second)
	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, err := store.GetTimer(ctx, seed.ID)
	if err != nil {
		t.Fatalf("GetTimer: %v", err)
	}
	if got.Status != model.StatusComplete {
		t.Fatalf("Status = %q after first sweep, want complete", got.Status)
	}
	if len(broadcasts) != 1 || broadcasts[0].Kind != model.ChangeUpdate {
		t.Fatalf("broadcasts = %d, want one update", len(broadcasts))
	}

	// Overrun is already 100s past the target, beyond the 60s grace.
	if err := sw.Sweep(ctx, now); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ = store.GetTimer(ctx, seed.ID)
	if got.Status != model.StatusOverdue {
		t.Fatalf("Status = %q after second sweep, want overdue", got.Status)
	}
	if len(broadcasts) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(broadcasts))
	}

	// Overdue is terminal for the sweeper.
	if err := sw.Sweep(ctx, now.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(broadcasts) != 2 {
		t.Fatalf("broadcasts = %d after extra sweep, want still 2", len(broadcasts))
	}
}

func TestSweeperCompletesExactlyAtTarget(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	var broadcasts []model.Change
	sw := NewSweeper(store, func(c model.Change) { broadcasts = append(broadcasts, c) }, 60*time.Second, time.Second, t.Logf)

	start := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	seed := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("line-1", "Blanch", 600, start))

	if err := sw.Sweep(ctx, start.Add(599*time.Second)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ := store.GetTimer(ctx, seed.ID)
	if got.Status != model.StatusRunning {
		t.Fatalf("Status = %q one second early, want running", got.Status)
	}

	if err := sw.Sweep(ctx, start.Add(600*time.Second)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	got, _ = store.GetTimer(ctx, seed.ID)
	if got.Status != model.StatusComplete {
		t.Fatalf("Status = %q at the target instant, want complete", got.Status)
	}
}

func TestSweeperLeavesGracePeriodAndHealthyTimersAlone(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	var broadcasts []model.Change
	sw := NewSweeper(store, func(c model.Change) { broadcasts = append(broadcasts, c) }, 60*time.Second, time.Second, t.Logf)

	start := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

	healthy := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("line-1", "Stock", 3600, start))

	inGrace := testutil.NewTimer("line-1", "Rest", 600, start)
	inGrace.Status = model.StatusComplete
	testutil.SeedTimer(t, store, ctx, inGrace)

	paused := testutil.NewTimer("line-1", "Proof", 600, start)
	paused.Status = model.StatusPaused
	pausedAt := start.Add(10 * time.Second)
	paused.PausedAt = &pausedAt
	testutil.SeedTimer(t, store, ctx, paused)

	countUp := testutil.NewTimer("line-1", "Fermentation", 0, start)
	countUp.Type = model.TypeCountUp
	testutil.SeedTimer(t, store, ctx, countUp)

	// 630s in: healthy has time left, the complete timer is 30s into its
	// 60s grace, paused and count_up are out of scope entirely.
	if err := sw.Sweep(ctx, start.Add(630*time.Second)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(broadcasts) != 0 {
		t.Fatalf("broadcasts = %d, want none", len(broadcasts))
	}
	for _, tc := range []struct {
		id   string
		want model.TimerStatus
	}{
		{healthy.ID, model.StatusRunning},
		{inGrace.ID, model.StatusComplete},
		{paused.ID, model.StatusPaused},
		{countUp.ID, model.StatusRunning},
	} {
		got, err := store.GetTimer(ctx, tc.id)
		if err != nil {
			t.Fatalf("GetTimer(%s): %v", tc.id, err)
		}
		if got.Status != tc.want {
			t.Fatalf("timer %s status = %q, want %q", tc.id, got.Status, tc.want)
		}
	}
}

func TestRetentionPurgesOldChanges(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	rt := NewRetention(store, 24*time.Hour, t.Logf)

	seed := testutil.SeedTimer(t, store, ctx, testutil.NewTimer("line-1", "Braise", 600, time.Now().UTC()))

	if _, ok, err := store.OldestChangeSeq(ctx, "line-1"); err != nil || !ok {
		t.Fatalf("expected a change row before purge, ok=%v err=%v", ok, err)
	}

	if err := rt.RunOnce(ctx, time.Now().Add(25*time.Hour)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, ok, err := store.OldestChangeSeq(ctx, "line-1"); err != nil {
		t.Fatalf("OldestChangeSeq: %v", err)
	} else if ok {
		t.Fatalf("change rows survived the purge")
	}
	// The timer record itself is not retention-scoped.
	if _, err := store.GetTimer(ctx, seed.ID); err != nil {
		t.Fatalf("GetTimer after purge: %v", err)
	}
}
