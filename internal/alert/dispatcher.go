// Package alert decides whether a completion event actually makes noise.
// Each timer's completion alert fires at most once until the timer is
// re-armed, and playback is gated behind sound config, snooze windows, and
// the session audio capability.
package alert

import (
	"sync"
	"time"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

// Player resolves an alert type to a concrete sound and plays it. The silent
// alert type never reaches the player.
type Player interface {
	Play(alertType model.AlertType) error
}

// AudioCapability tracks whether the session is allowed to emit sound.
// Playback starts Locked and stays Unlocked for the rest of the session once
// a user gesture arrives.
type AudioCapability int

const (
	AudioLocked AudioCapability = iota
	AudioUnlocked
)

// Dispatcher fires completion alerts. Safe for concurrent use.
type Dispatcher struct {
	mu           sync.Mutex
	fired        map[string]bool
	capability   AudioCapability
	soundEnabled bool
	player       Player
	promptShown  bool
	promptFn     func()
	logf         func(format string, args ...any)
}

type Option func(*Dispatcher)

// WithPromptFunc installs the one-time "enable sound" prompt shown when
// playback is requested while audio is still locked.
func WithPromptFunc(fn func()) Option {
	return func(d *Dispatcher) { d.promptFn = fn }
}

// WithLogFunc overrides the playback failure logger.
func WithLogFunc(fn func(format string, args ...any)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.logf = fn
		}
	}
}

func NewDispatcher(player Player, soundEnabled bool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fired:        make(map[string]bool),
		capability:   AudioLocked,
		soundEnabled: soundEnabled,
		player:       player,
		promptFn:     func() {},
		logf:         func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UnlockAudio records a user gesture. Idempotent.
func (d *Dispatcher) UnlockAudio() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capability = AudioUnlocked
}

func (d *Dispatcher) Capability() AudioCapability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capability
}

// TimerCompleted handles a completion event. The fired flag is set before
// any playback decision, so sound config, snooze, and audio gating all still
// consume the single shot.
func (d *Dispatcher) TimerCompleted(t model.Timer, now time.Time) {
	d.mu.Lock()
	if d.fired[t.ID] {
		d.mu.Unlock()
		return
	}
	d.fired[t.ID] = true
	play := d.shouldPlayLocked(t, now)
	d.mu.Unlock()
	if play {
		d.play(t)
	}
}

// TimerOverdue handles the escalation to OVERDUE. Escalation never repeats
// the completion alert; a re-arm is required for more sound.
func (d *Dispatcher) TimerOverdue(t model.Timer, now time.Time) {}

// Rearm clears the fired flag so the next completion alerts again.
func (d *Dispatcher) Rearm(timerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fired, timerID)
}

// Forget drops all alert state for a dismissed timer.
func (d *Dispatcher) Forget(timerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fired, timerID)
}

// HasFired reports whether the timer's completion alert has been consumed.
func (d *Dispatcher) HasFired(timerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired[timerID]
}

func (d *Dispatcher) shouldPlayLocked(t model.Timer, now time.Time) bool {
	if t.AlertType == model.AlertSilent {
		return false
	}
	if !d.soundEnabled {
		return false
	}
	if timercore.Snoozed(t, now) {
		return false
	}
	if d.capability == AudioLocked {
		if !d.promptShown {
			d.promptShown = true
			prompt := d.promptFn
			go prompt()
		}
		return false
	}
	return true
}

func (d *Dispatcher) play(t model.Timer) {
	if d.player == nil {
		return
	}
	if err := d.player.Play(t.AlertType); err != nil {
		d.logf("alert: play %s for timer %s: %v", t.AlertType, t.ID, err)
	}
}
