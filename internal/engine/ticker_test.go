package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

type recordingNotifier struct {
	completed []string
	overdue   []string
}

func (n *recordingNotifier) TimerCompleted(t model.Timer, _ time.Time) {
	n.completed = append(n.completed, t.ID)
}

func (n *recordingNotifier) TimerOverdue(t model.Timer, _ time.Time) {
	n.overdue = append(n.overdue, t.ID)
}

func newTicker(t *testing.T) (*Ticker, *Store, *recordingNotifier) {
	t.Helper()
	store := NewStore("venue-1", timercore.DefaultConfig())
	notifier := &recordingNotifier{}
	return NewTicker(store, nil, notifier, 60*time.Second, time.Second), store, notifier
}

func TestTickEmptyStoreIsNoop(t *testing.T) {
	tk, _, notifier := newTicker(t)
	tk.Tick(context.Background(), base)
	if len(notifier.completed) != 0 || len(notifier.overdue) != 0 {
		t.Fatalf("empty tick produced events")
	}
}

func TestTickCompletesAtZero(t *testing.T) {
	tk, store, notifier := newTicker(t)
	store.Upsert(newTimer("t1", "venue-1", 600))

	tk.Tick(context.Background(), base.Add(599*time.Second))
	if got, _ := store.Get("t1"); got.Status != model.StatusRunning {
		t.Fatalf("status before zero = %s", got.Status)
	}

	tk.Tick(context.Background(), base.Add(600*time.Second))
	got, _ := store.Get("t1")
	if got.Status != model.StatusComplete {
		t.Fatalf("status at zero = %s, want complete", got.Status)
	}
	if len(notifier.completed) != 1 || notifier.completed[0] != "t1" {
		t.Fatalf("completion events = %v", notifier.completed)
	}
}

func TestTickCompletionEventFiresOnce(t *testing.T) {
	tk, store, notifier := newTicker(t)
	store.Upsert(newTimer("t1", "venue-1", 600))

	for step := int64(600); step <= 650; step++ {
		tk.Tick(context.Background(), base.Add(time.Duration(step)*time.Second))
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("completion events = %d, want 1", len(notifier.completed))
	}
}

func TestTickEscalatesToOverdue(t *testing.T) {
	tk, store, notifier := newTicker(t)
	store.Upsert(newTimer("t1", "venue-1", 600))

	tk.Tick(context.Background(), base.Add(600*time.Second))
	tk.Tick(context.Background(), base.Add(660*time.Second))
	if got, _ := store.Get("t1"); got.Status != model.StatusComplete {
		t.Fatalf("status at 60s overrun = %s, want complete", got.Status)
	}

	tk.Tick(context.Background(), base.Add(661*time.Second))
	got, _ := store.Get("t1")
	if got.Status != model.StatusOverdue {
		t.Fatalf("status past threshold = %s, want overdue", got.Status)
	}
	if len(notifier.overdue) != 1 {
		t.Fatalf("overdue events = %d, want 1", len(notifier.overdue))
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("overdue escalation repeated the completion event")
	}
}

func TestTickIgnoresPausedAndCountUp(t *testing.T) {
	tk, store, notifier := newTicker(t)

	paused := newTimer("paused", "venue-1", 600)
	pausedAt := base.Add(10 * time.Second)
	paused.Status = model.StatusPaused
	paused.PausedAt = &pausedAt
	store.Upsert(paused)

	clock := newTimer("clock", "venue-1", 0)
	clock.Type = model.TypeCountUp
	store.Upsert(clock)

	tk.Tick(context.Background(), base.Add(2*time.Hour))
	if got, _ := store.Get("paused"); got.Status != model.StatusPaused {
		t.Fatalf("paused timer transitioned to %s", got.Status)
	}
	if got, _ := store.Get("clock"); got.Status != model.StatusRunning {
		t.Fatalf("count-up timer transitioned to %s", got.Status)
	}
	if len(notifier.completed) != 0 {
		t.Fatalf("unexpected completion events: %v", notifier.completed)
	}
}

// The Braise scenario: a 2700s countdown completes exactly once, reads zero
// remaining at completion, and escalates 60s later without another alert.
func TestBraiseEndToEnd(t *testing.T) {
	store := NewStore("venue-1", timercore.DefaultConfig())
	notifier := &recordingNotifier{}
	lc := NewLifecycle(store, nil)
	tk := NewTicker(store, nil, notifier, 60*time.Second, time.Second)

	timer, err := lc.Start(context.Background(), StartSpec{
		Label:           "Braise",
		Type:            model.TypeCountdown,
		DurationSeconds: 2700,
		AlertType:       model.AlertChime,
	}, base)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for step := int64(1); step <= 2700; step++ {
		tk.Tick(context.Background(), base.Add(time.Duration(step)*time.Second))
	}
	got, _ := store.Get(timer.ID)
	if got.Status != model.StatusComplete {
		t.Fatalf("status after 2700s = %s, want complete", got.Status)
	}
	if remaining, _ := store.RemainingSeconds(timer.ID, base.Add(2700*time.Second)); remaining != 0 {
		t.Fatalf("remaining at completion = %d, want 0", remaining)
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("completion events = %d, want exactly 1", len(notifier.completed))
	}

	for step := int64(2701); step <= 2761; step++ {
		tk.Tick(context.Background(), base.Add(time.Duration(step)*time.Second))
	}
	got, _ = store.Get(timer.ID)
	if got.Status != model.StatusOverdue {
		t.Fatalf("status 61s after completion = %s, want overdue", got.Status)
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("overdue escalation fired another alert")
	}
}
