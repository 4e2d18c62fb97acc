package timercore

import (
	"time"

	"github.com/prepline/kitchend/internal/model"
)

// The transition functions return the updated record and whether anything
// changed. Callers skip persistence and broadcast when nothing changed.

// PauseTimer freezes a RUNNING timer at now.
func PauseTimer(t model.Timer, now time.Time) (model.Timer, bool) {
	if t.Status != model.StatusRunning {
		return t, false
	}
	now = now.UTC()
	t.Status = model.StatusPaused
	t.PausedAt = &now
	t.UpdatedAt = now
	return t, true
}

// ResumeTimer folds the pause interval into the accumulated total and
// returns the timer to RUNNING.
func ResumeTimer(t model.Timer, now time.Time) (model.Timer, bool) {
	if t.Status != model.StatusPaused {
		return t, false
	}
	now = now.UTC()
	if t.PausedAt != nil {
		paused := int64(now.Sub(*t.PausedAt) / time.Second)
		if paused > 0 {
			t.AccumulatedPausedSecs += paused
		}
	}
	t.Status = model.StatusRunning
	t.PausedAt = nil
	t.UpdatedAt = now
	return t, true
}

// AddTimeTo extends a countdown. Negative seconds shrink the duration but
// never below the elapsed time. A COMPLETE or OVERDUE timer whose remaining
// time becomes positive returns to RUNNING; reactivated reports that case so
// the caller can re-arm alerts.
func AddTimeTo(t model.Timer, seconds int64, now time.Time) (updated model.Timer, changed, reactivated bool) {
	if t.Type != model.TypeCountdown || seconds == 0 {
		return t, false, false
	}
	now = now.UTC()
	elapsed := ElapsedSeconds(t, now)
	t.DurationSeconds += seconds
	if t.DurationSeconds < elapsed {
		t.DurationSeconds = elapsed
	}
	if (t.Status == model.StatusComplete || t.Status == model.StatusOverdue) && t.DurationSeconds > elapsed {
		t.Status = model.StatusRunning
		t.SnoozedUntil = nil
		reactivated = true
	}
	t.UpdatedAt = now
	return t, true, reactivated
}

// SnoozeTimer suppresses re-alerting for a COMPLETE or OVERDUE timer until
// now plus the interval. Status is unchanged.
func SnoozeTimer(t model.Timer, interval time.Duration, now time.Time) (model.Timer, bool) {
	if t.Status != model.StatusComplete && t.Status != model.StatusOverdue {
		return t, false
	}
	if interval <= 0 {
		return t, false
	}
	now = now.UTC()
	until := now.Add(interval)
	t.SnoozedUntil = &until
	t.UpdatedAt = now
	return t, true
}
