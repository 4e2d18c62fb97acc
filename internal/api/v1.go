package api

import "time"

// SchemaVersion is stamped on every response envelope and feed line.
const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
}

// TimerItem is the wire form of a timer record, plus the derived values the
// server computes at response time.
type TimerItem struct {
	TimerID               string   `json:"timer_id"`
	VenueID               string   `json:"venue_id"`
	Label                 string   `json:"label"`
	TimerType             string   `json:"timer_type"`
	DurationSeconds       int64    `json:"duration_seconds"`
	Status                string   `json:"status"`
	AlertType             string   `json:"alert_type"`
	Critical              bool     `json:"critical"`
	Station               string   `json:"station,omitempty"`
	Notes                 string   `json:"notes,omitempty"`
	Icon                  string   `json:"icon,omitempty"`
	StartedAt             string   `json:"started_at"`
	PausedAt              *string  `json:"paused_at,omitempty"`
	AccumulatedPausedSecs int64    `json:"accumulated_paused_seconds"`
	SnoozedUntil          *string  `json:"snoozed_until,omitempty"`
	CreatedAt             string   `json:"created_at"`
	UpdatedAt             string   `json:"updated_at"`
	RemainingSeconds      *int64   `json:"remaining_seconds,omitempty"`
	Progress              *float64 `json:"progress,omitempty"`
	Urgency               string   `json:"urgency,omitempty"`
}

type TimersEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	VenueID       string      `json:"venue_id"`
	Cursor        string      `json:"cursor,omitempty"`
	Timers        []TimerItem `json:"timers"`
}

type TimerEnvelope struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Timer         TimerItem `json:"timer"`
}

// FeedLine is one message of the change feed. Type is "snapshot", "reset",
// or "change"; snapshot and reset carry Timers, change carries Change.
type FeedLine struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	StreamID      string      `json:"stream_id"`
	Cursor        string      `json:"cursor"`
	VenueID       string      `json:"venue_id"`
	Type          string      `json:"type"`
	Timers        []TimerItem `json:"timers,omitempty"`
	Change        *ChangeItem `json:"change,omitempty"`
}

type ChangeItem struct {
	Seq        int64      `json:"seq"`
	ChangeID   string     `json:"change_id"`
	VenueID    string     `json:"venue_id"`
	TimerID    string     `json:"timer_id"`
	Kind       string     `json:"kind"`
	Timer      *TimerItem `json:"timer,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

type StartTimerRequest struct {
	Label           string `json:"label"`
	TimerType       string `json:"timer_type"`
	DurationSeconds int64  `json:"duration_seconds"`
	AlertType       string `json:"alert_type"`
	Critical        bool   `json:"critical,omitempty"`
	Station         string `json:"station,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Icon            string `json:"icon,omitempty"`
}

type AddTimeRequest struct {
	Seconds int64 `json:"seconds"`
}

type SnoozeRequest struct {
	IntervalSeconds int64 `json:"interval_seconds,omitempty"`
}

// UpsertTimerRequest carries a full record for the bridge's optimistic
// write-back path. The server applies it last-writer-wins on updated_at.
type UpsertTimerRequest struct {
	Timer TimerItem `json:"timer"`
}
