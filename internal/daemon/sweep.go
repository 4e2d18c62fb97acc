package daemon

import (
	"context"
	"time"

	"github.com/prepline/kitchend/internal/db"
	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

// Sweeper is the daemon-side tick pass. Clients transition their own copies
// locally, but the daemon applies the same transitions authoritatively so a
// venue with no connected client still completes its timers and every client
// observes the transition through the feed.
type Sweeper struct {
	store        *db.Store
	broadcast    func(model.Change)
	overdueAfter time.Duration
	interval     time.Duration
	logf         func(format string, args ...any)
}

func NewSweeper(store *db.Store, broadcast func(model.Change), overdueAfter, interval time.Duration, logf func(format string, args ...any)) *Sweeper {
	if overdueAfter <= 0 {
		overdueAfter = 60 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	if broadcast == nil {
		broadcast = func(model.Change) {}
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Sweeper{
		store:        store,
		broadcast:    broadcast,
		overdueAfter: overdueAfter,
		interval:     interval,
		logf:         logf,
	}
}

// Sweep applies due transitions across all venues once.
func (sw *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	now = now.UTC()
	timers, err := sw.store.ListActiveCountdowns(ctx)
	if err != nil {
		return err
	}
	for _, t := range timers {
		var next model.TimerStatus
		switch t.Status {
		case model.StatusRunning:
			if timercore.RemainingSeconds(t, now) > 0 {
				continue
			}
			next = model.StatusComplete
		case model.StatusComplete:
			overrun := -timercore.RemainingSeconds(t, now)
			if overrun <= int64(sw.overdueAfter/time.Second) {
				continue
			}
			next = model.StatusOverdue
		default:
			continue
		}
		t.Status = next
		t.UpdatedAt = now
		change, applied, err := sw.store.ApplyUpsert(ctx, t)
		if err != nil {
			sw.logf("sweep: transition timer %s to %s: %v", t.ID, next, err)
			continue
		}
		if applied {
			sw.broadcast(change)
		}
	}
	return nil
}

// Run sweeps at the configured interval until the context is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := sw.Sweep(ctx, now); err != nil {
				sw.logf("sweep: %v", err)
			}
		}
	}
}

// Retention prunes change-log rows past their TTL. Clients holding a cursor
// older than the pruned window get a reset with a fresh snapshot on their
// next watch or feed connect.
type Retention struct {
	store    *db.Store
	ttl      time.Duration
	interval time.Duration
	logf     func(format string, args ...any)
}

func NewRetention(store *db.Store, ttl time.Duration, logf func(format string, args ...any)) *Retention {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Retention{
		store:    store,
		ttl:      ttl,
		interval: time.Hour,
		logf:     logf,
	}
}

func (rt *Retention) RunOnce(ctx context.Context, now time.Time) error {
	return rt.store.PurgeChanges(ctx, now.UTC().Add(-rt.ttl))
}

func (rt *Retention) Run(ctx context.Context) {
	if err := rt.RunOnce(ctx, time.Now()); err != nil {
		rt.logf("retention: %v", err)
	}
	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := rt.RunOnce(ctx, now); err != nil {
				rt.logf("retention: %v", err)
			}
		}
	}
}
