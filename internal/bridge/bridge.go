// Package bridge keeps a client's in-memory store converged with the
// daemon by consuming the venue's websocket change feed. Outbound writes go
// the other way, through the HTTP client wired into the engine lifecycle.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepline/kitchend/internal/api"
	"github.com/prepline/kitchend/internal/engine"
	"github.com/prepline/kitchend/internal/model"
)

// Bridge subscribes to one venue's feed and replays it into the store.
// Every connection starts with a server snapshot, so reconnects are always
// safe regardless of what was missed.
type Bridge struct {
	feedURL    string
	store      *engine.Store
	rearmer    engine.Rearmer
	minBackoff time.Duration
	maxBackoff time.Duration
	logf       func(format string, args ...any)
}

type Option func(*Bridge)

// WithRearmer re-arms alerts when a feed event reactivates a finished timer,
// matching the local add-time path.
func WithRearmer(r engine.Rearmer) Option {
	return func(b *Bridge) { b.rearmer = r }
}

func WithBackoff(min, max time.Duration) Option {
	return func(b *Bridge) {
		if min > 0 {
			b.minBackoff = min
		}
		if max >= b.minBackoff {
			b.maxBackoff = max
		}
	}
}

func WithLogFunc(fn func(format string, args ...any)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.logf = fn
		}
	}
}

func New(feedURL string, store *engine.Store, opts ...Option) *Bridge {
	b := &Bridge{
		feedURL:    feedURL,
		store:      store,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		logf:       func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run dials the feed and replays it until the context is cancelled,
// reconnecting with exponential backoff on any failure.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := b.minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logf("bridge: feed connection lost: %v", err)
		if waitErr := sleepWithContext(ctx, backoff); waitErr != nil {
			return waitErr
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}

func (b *Bridge) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.feedURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	go func() {
		<-ctx.Done()
		conn.Close() //nolint:errcheck
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var line api.FeedLine
		if err := json.Unmarshal(payload, &line); err != nil {
			// A corrupt line must not poison the store; the next
			// snapshot reconciles anything missed.
			b.logf("bridge: drop malformed feed line: %v", err)
			continue
		}
		b.Apply(line)
	}
}

// Apply folds one feed line into the store. Unknown line types and corrupt
// timer payloads are dropped with a warning.
func (b *Bridge) Apply(line api.FeedLine) {
	switch line.Type {
	case "snapshot":
		timers := make([]model.Timer, 0, len(line.Timers))
		seen := make(map[string]struct{}, len(line.Timers))
		for _, item := range line.Timers {
			t, err := api.ToTimer(item)
			if err != nil {
				b.logf("bridge: drop malformed snapshot timer %s: %v", item.TimerID, err)
				continue
			}
			seen[t.ID] = struct{}{}
			// A reactivation that happened while disconnected arrives only
			// through this snapshot, so it must re-arm like a change would.
			b.maybeRearm(t)
			timers = append(timers, t)
		}
		if b.rearmer != nil {
			for _, prev := range b.store.List() {
				if _, ok := seen[prev.ID]; !ok {
					b.rearmer.Forget(prev.ID)
				}
			}
		}
		b.store.ReplaceAll(timers)
	case "reset":
		// The snapshot that follows carries the state.
	case "change":
		if line.Change == nil {
			b.logf("bridge: drop change line without change payload")
			return
		}
		b.applyChange(*line.Change)
	default:
		b.logf("bridge: drop feed line with unknown type %q", line.Type)
	}
}

func (b *Bridge) applyChange(c api.ChangeItem) {
	switch model.ChangeKind(c.Kind) {
	case model.ChangeInsert, model.ChangeUpdate:
		if c.Timer == nil {
			b.logf("bridge: drop %s change without timer payload", c.Kind)
			return
		}
		t, err := api.ToTimer(*c.Timer)
		if err != nil {
			b.logf("bridge: drop malformed %s change for timer %s: %v", c.Kind, c.TimerID, err)
			return
		}
		b.maybeRearm(t)
		b.store.Upsert(t)
	case model.ChangeDelete:
		b.store.Remove(c.TimerID)
		if b.rearmer != nil {
			b.rearmer.Forget(c.TimerID)
		}
	default:
		b.logf("bridge: drop change with unknown kind %q", c.Kind)
	}
}

// maybeRearm clears the spent alert shot when an incoming record shows a
// finished timer running again.
func (b *Bridge) maybeRearm(t model.Timer) {
	if b.rearmer == nil || t.Status != model.StatusRunning {
		return
	}
	if prev, ok := b.store.Get(t.ID); ok && (prev.Status == model.StatusComplete || prev.Status == model.StatusOverdue) {
		b.rearmer.Rearm(t.ID)
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
