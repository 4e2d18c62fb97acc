package engine

import (
	"context"
	"time"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

// Notifier receives status transitions detected by the tick pass. The alert
// dispatcher implements this to fire completion alerts.
type Notifier interface {
	TimerCompleted(t model.Timer, now time.Time)
	TimerOverdue(t model.Timer, now time.Time)
}

// Ticker advances timer statuses as wall time passes. Each Tick is a pure
// function of the store contents and the supplied now, so tests drive it
// directly with fixed times.
type Ticker struct {
	store        *Store
	writer       Writer
	notifier     Notifier
	overdueAfter time.Duration
	interval     time.Duration
	onWriteError func(op string, err error)
}

func NewTicker(store *Store, writer Writer, notifier Notifier, overdueAfter, interval time.Duration) *Ticker {
	if overdueAfter <= 0 {
		overdueAfter = 60 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		store:        store,
		writer:       writer,
		notifier:     notifier,
		overdueAfter: overdueAfter,
		interval:     interval,
		onWriteError: func(string, error) {},
	}
}

// SetWriteErrorFunc installs a callback for failed write-through calls.
func (tk *Ticker) SetWriteErrorFunc(fn func(op string, err error)) {
	if fn != nil {
		tk.onWriteError = fn
	}
}

// Tick scans the store once and applies due transitions. A RUNNING countdown
// whose remaining time has reached zero moves to COMPLETE; a COMPLETE timer
// that has overrun past the overdue threshold moves to OVERDUE. Count-up
// timers never transition. An empty store is a no-op.
func (tk *Ticker) Tick(ctx context.Context, now time.Time) {
	now = now.UTC()
	for _, t := range tk.store.List() {
		if t.Type != model.TypeCountdown {
			continue
		}
		switch t.Status {
		case model.StatusRunning:
			if timercore.RemainingSeconds(t, now) > 0 {
				continue
			}
			t.Status = model.StatusComplete
			t.UpdatedAt = now
			tk.store.Upsert(t)
			tk.writeThrough(ctx, "complete", t)
			if tk.notifier != nil {
				tk.notifier.TimerCompleted(t, now)
			}
		case model.StatusComplete:
			overrun := -timercore.RemainingSeconds(t, now)
			if overrun <= int64(tk.overdueAfter/time.Second) {
				continue
			}
			t.Status = model.StatusOverdue
			t.UpdatedAt = now
			tk.store.Upsert(t)
			tk.writeThrough(ctx, "overdue", t)
			if tk.notifier != nil {
				tk.notifier.TimerOverdue(t, now)
			}
		}
	}
}

// Run ticks at the configured interval until the context is cancelled.
func (tk *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(tk.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tk.Tick(ctx, now)
		}
	}
}

func (tk *Ticker) writeThrough(ctx context.Context, op string, t model.Timer) {
	if tk.writer == nil {
		return
	}
	if err := tk.writer.UpsertTimer(ctx, t); err != nil {
		tk.onWriteError(op, err)
	}
}
