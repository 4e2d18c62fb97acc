package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

// ErrInvalidSpec marks start specs rejected before any state changes.
var ErrInvalidSpec = errors.New("invalid timer spec")

// Rearmer clears per-timer alert state when a finished timer comes back to
// life, so the next completion can fire again.
type Rearmer interface {
	Rearm(timerID string)
	Forget(timerID string)
}

// Writer persists mutations to the backend. The lifecycle applies every
// change to the local store first and treats persistence as fire-and-forget;
// implementations should not block on network round trips.
type Writer interface {
	UpsertTimer(ctx context.Context, t model.Timer) error
	DeleteTimer(ctx context.Context, venueID, timerID string) error
}

// Lifecycle mutates timers in the store and writes the results through.
// A nil writer keeps all changes local.
type Lifecycle struct {
	store          *Store
	writer         Writer
	rearmer        Rearmer
	snoozeInterval time.Duration
	onWriteError   func(op string, err error)
}

type LifecycleOption func(*Lifecycle)

// WithSnoozeInterval overrides the default snooze interval.
func WithSnoozeInterval(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.snoozeInterval = d
		}
	}
}

// WithRearmer connects the alert dispatcher so reactivations re-arm it.
func WithRearmer(r Rearmer) LifecycleOption {
	return func(l *Lifecycle) { l.rearmer = r }
}

// WithWriteErrorFunc installs a callback for failed write-through calls.
func WithWriteErrorFunc(fn func(op string, err error)) LifecycleOption {
	return func(l *Lifecycle) { l.onWriteError = fn }
}

func NewLifecycle(store *Store, writer Writer, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:          store,
		writer:         writer,
		snoozeInterval: 5 * time.Minute,
		onWriteError:   func(string, error) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartSpec describes a timer to create.
type StartSpec struct {
	Label           string
	Type            model.TimerType
	DurationSeconds int64
	AlertType       model.AlertType
	Critical        bool
	Station         string
	Notes           string
	Icon            string
}

// Start validates the spec, creates the timer in RUNNING state, and returns
// the new record. Invalid specs fail before anything is created.
func (l *Lifecycle) Start(ctx context.Context, spec StartSpec, now time.Time) (model.Timer, error) {
	label := strings.TrimSpace(spec.Label)
	if label == "" {
		return model.Timer{}, fmt.Errorf("start timer: %w: label required", ErrInvalidSpec)
	}
	switch spec.Type {
	case model.TypeCountdown:
		if spec.DurationSeconds <= 0 {
			return model.Timer{}, fmt.Errorf("start timer: %w: countdown requires positive duration", ErrInvalidSpec)
		}
	case model.TypeCountUp:
	default:
		return model.Timer{}, fmt.Errorf("start timer: %w: unknown timer type %q", ErrInvalidSpec, spec.Type)
	}
	if !model.ValidAlertType(spec.AlertType) {
		return model.Timer{}, fmt.Errorf("start timer: %w: unknown alert type %q", ErrInvalidSpec, spec.AlertType)
	}

	now = now.UTC()
	t := model.Timer{
		ID:              uuid.NewString(),
		VenueID:         l.store.VenueID(),
		Label:           label,
		Type:            spec.Type,
		DurationSeconds: spec.DurationSeconds,
		Status:          model.StatusRunning,
		AlertType:       spec.AlertType,
		Critical:        spec.Critical,
		Station:         spec.Station,
		Notes:           spec.Notes,
		Icon:            spec.Icon,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	l.store.Upsert(t)
	l.writeUpsert(ctx, "start", t)
	return t, nil
}

// Pause freezes a RUNNING timer. Any other status, or an unknown id, is a
// no-op.
func (l *Lifecycle) Pause(ctx context.Context, timerID string, now time.Time) {
	t, ok := l.store.Get(timerID)
	if !ok {
		return
	}
	t, changed := timercore.PauseTimer(t, now)
	if !changed {
		return
	}
	l.store.Upsert(t)
	l.writeUpsert(ctx, "pause", t)
}

// Resume folds the pause interval into the accumulated total and returns the
// timer to RUNNING. Non-paused timers and unknown ids are a no-op.
func (l *Lifecycle) Resume(ctx context.Context, timerID string, now time.Time) {
	t, ok := l.store.Get(timerID)
	if !ok {
		return
	}
	t, changed := timercore.ResumeTimer(t, now)
	if !changed {
		return
	}
	l.store.Upsert(t)
	l.writeUpsert(ctx, "resume", t)
}

// AddTime extends a countdown by the given number of seconds. The duration
// never drops below the elapsed time, so remaining time cannot go negative
// from this path. A COMPLETE or OVERDUE timer whose remaining time becomes
// positive returns to RUNNING and re-arms its alert. Count-up timers and
// unknown ids are a no-op.
func (l *Lifecycle) AddTime(ctx context.Context, timerID string, seconds int64, now time.Time) {
	t, ok := l.store.Get(timerID)
	if !ok {
		return
	}
	t, changed, reactivated := timercore.AddTimeTo(t, seconds, now)
	if !changed {
		return
	}
	if reactivated && l.rearmer != nil {
		l.rearmer.Rearm(t.ID)
	}
	l.store.Upsert(t)
	l.writeUpsert(ctx, "add_time", t)
}

// Snooze suppresses alerts for a COMPLETE or OVERDUE timer until now plus
// the interval. Status is unchanged, only sound stops. A zero interval uses
// the configured default. Other statuses and unknown ids are a no-op.
func (l *Lifecycle) Snooze(ctx context.Context, timerID string, interval time.Duration, now time.Time) {
	t, ok := l.store.Get(timerID)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = l.snoozeInterval
	}
	t, changed := timercore.SnoozeTimer(t, interval, now)
	if !changed {
		return
	}
	l.store.Upsert(t)
	l.writeUpsert(ctx, "snooze", t)
}

// Dismiss removes the timer entirely. Unknown ids are a no-op.
func (l *Lifecycle) Dismiss(ctx context.Context, timerID string) {
	t, ok := l.store.Get(timerID)
	if !ok {
		return
	}
	l.store.Remove(timerID)
	if l.rearmer != nil {
		l.rearmer.Forget(timerID)
	}
	if l.writer == nil {
		return
	}
	if err := l.writer.DeleteTimer(ctx, t.VenueID, t.ID); err != nil {
		l.onWriteError("dismiss", err)
	}
}

func (l *Lifecycle) writeUpsert(ctx context.Context, op string, t model.Timer) {
	if l.writer == nil {
		return
	}
	if err := l.writer.UpsertTimer(ctx, t); err != nil {
		l.onWriteError(op, err)
	}
}
