// Package timercore holds the derived-time math for venue timers. Every
// function is pure over the record and a supplied now, so callers can test
// transitions without waiting in real time.
package timercore

import (
	"time"

	"github.com/prepline/kitchend/internal/model"
)

type Config struct {
	// SafeRatio and WarningRatio are fractions of the target duration.
	// remaining/duration >= SafeRatio -> safe, >= WarningRatio -> warning,
	// > 0 -> danger.
	SafeRatio    float64
	WarningRatio float64
	// CompleteGrace is how long past zero a countdown still reads as
	// complete before it escalates to overdue.
	CompleteGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		SafeRatio:     0.5,
		WarningRatio:  0.2,
		CompleteGrace: 60 * time.Second,
	}
}

// ElapsedSeconds is wall-clock time since start minus all pauses. While the
// timer is paused the clock is frozen at the pause instant.
func ElapsedSeconds(t model.Timer, now time.Time) int64 {
	end := now
	if t.Status == model.StatusPaused && t.PausedAt != nil {
		end = *t.PausedAt
	}
	elapsed := int64(end.Sub(t.StartedAt)/time.Second) - t.AccumulatedPausedSecs
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// RemainingSeconds is the countdown's distance from its target. Negative
// once overdue; the sign carries the overrun. For count-up timers it returns
// elapsed seconds, unclamped, for display.
func RemainingSeconds(t model.Timer, now time.Time) int64 {
	if t.Type == model.TypeCountUp {
		return ElapsedSeconds(t, now)
	}
	return t.DurationSeconds - ElapsedSeconds(t, now)
}

// Progress is elapsed/duration clamped to [0,1]. Count-up timers have no
// target, so progress is defined as zero for them.
func Progress(t model.Timer, now time.Time) float64 {
	if t.Type == model.TypeCountUp || t.DurationSeconds <= 0 {
		return 0
	}
	return clamp01(float64(ElapsedSeconds(t, now)) / float64(t.DurationSeconds))
}

// UrgencyFor classifies a timer into its escalation tier at the given
// instant. Critical timers never report calmer than danger while still
// counting down.
func UrgencyFor(t model.Timer, now time.Time, cfg Config) model.Urgency {
	if t.Type == model.TypeCountUp {
		return model.UrgencyInfo
	}
	remaining := RemainingSeconds(t, now)
	if remaining <= 0 {
		if t.Status == model.StatusOverdue {
			return model.UrgencyOverdue
		}
		overrun := time.Duration(-remaining) * time.Second
		if overrun > cfg.CompleteGrace {
			return model.UrgencyOverdue
		}
		return model.UrgencyComplete
	}
	if t.DurationSeconds <= 0 {
		return model.UrgencyDanger
	}
	ratio := float64(remaining) / float64(t.DurationSeconds)
	tier := model.UrgencyDanger
	switch {
	case ratio >= cfg.SafeRatio:
		tier = model.UrgencySafe
	case ratio >= cfg.WarningRatio:
		tier = model.UrgencyWarning
	}
	if t.Critical && (tier == model.UrgencySafe || tier == model.UrgencyWarning) {
		return model.UrgencyDanger
	}
	return tier
}

// Snoozed reports whether re-alerting is suppressed at the given instant.
func Snoozed(t model.Timer, now time.Time) bool {
	return t.SnoozedUntil != nil && now.Before(*t.SnoozedUntil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
