package model

import "time"

// TimerType distinguishes a countdown toward a target duration from a
// free-running elapsed-time stopwatch.
type TimerType string

const (
	TypeCountdown TimerType = "countdown"
	TypeCountUp   TimerType = "count_up"
)

// TimerStatus is the persisted lifecycle state of a timer. Dismissed timers
// are deleted, not archived; there is no terminal status value.
type TimerStatus string

const (
	StatusRunning  TimerStatus = "running"
	StatusPaused   TimerStatus = "paused"
	StatusComplete TimerStatus = "complete"
	StatusOverdue  TimerStatus = "overdue"
)

// AlertType selects the sound played on completion. Silent is always valid
// and always succeeds.
type AlertType string

const (
	AlertChime  AlertType = "chime"
	AlertBell   AlertType = "bell"
	AlertBuzzer AlertType = "buzzer"
	AlertSilent AlertType = "silent"
)

func ValidAlertType(a AlertType) bool {
	switch a {
	case AlertChime, AlertBell, AlertBuzzer, AlertSilent:
		return true
	default:
		return false
	}
}

// Urgency is the discrete escalation tier derived from remaining time.
type Urgency string

const (
	UrgencySafe     Urgency = "safe"
	UrgencyWarning  Urgency = "warning"
	UrgencyDanger   Urgency = "danger"
	UrgencyComplete Urgency = "complete"
	UrgencyOverdue  Urgency = "overdue"
	UrgencyInfo     Urgency = "info"
)

// Timer is the authoritative record for one station timer, shared by every
// client viewing the venue. UpdatedAt is the backend's last-writer-wins
// ordering key.
type Timer struct {
	ID                    string
	VenueID               string
	Label                 string
	Type                  TimerType
	DurationSeconds       int64
	Status                TimerStatus
	AlertType             AlertType
	Critical              bool
	Station               string
	Notes                 string
	Icon                  string
	StartedAt             time.Time
	PausedAt              *time.Time
	AccumulatedPausedSecs int64
	SnoozedUntil          *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Clone returns a deep copy; Timer holds pointer fields so callers must not
// share them across the store boundary.
func (t Timer) Clone() Timer {
	out := t
	if t.PausedAt != nil {
		v := *t.PausedAt
		out.PausedAt = &v
	}
	if t.SnoozedUntil != nil {
		v := *t.SnoozedUntil
		out.SnoozedUntil = &v
	}
	return out
}

// ChangeKind tags a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one entry of the per-venue change log. Seq increases
// monotonically within a venue; for deletes Timer carries the last known
// record.
type Change struct {
	Seq        int64
	ChangeID   string
	VenueID    string
	TimerID    string
	Kind       ChangeKind
	Timer      *Timer
	RecordedAt time.Time
}

// Error codes defined by the API contract.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefInvalidEncoding = "E_REF_INVALID_ENCODING"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrValidation         = "E_VALIDATION"
	ErrCursorInvalid      = "E_CURSOR_INVALID"
	ErrCursorExpired      = "E_CURSOR_EXPIRED"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrTimersDisabled     = "E_TIMERS_DISABLED"
)
