package api

import (
	"fmt"
	"time"

	"github.com/prepline/kitchend/internal/model"
)

// FromTimer converts a record to its wire form without derived fields.
func FromTimer(t model.Timer) TimerItem {
	item := TimerItem{
		TimerID:               t.ID,
		VenueID:               t.VenueID,
		Label:                 t.Label,
		TimerType:             string(t.Type),
		DurationSeconds:       t.DurationSeconds,
		Status:                string(t.Status),
		AlertType:             string(t.AlertType),
		Critical:              t.Critical,
		Station:               t.Station,
		Notes:                 t.Notes,
		Icon:                  t.Icon,
		StartedAt:             t.StartedAt.UTC().Format(time.RFC3339Nano),
		AccumulatedPausedSecs: t.AccumulatedPausedSecs,
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:             t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.PausedAt != nil {
		v := t.PausedAt.UTC().Format(time.RFC3339Nano)
		item.PausedAt = &v
	}
	if t.SnoozedUntil != nil {
		v := t.SnoozedUntil.UTC().Format(time.RFC3339Nano)
		item.SnoozedUntil = &v
	}
	return item
}

// ToTimer converts a wire item back into a record, validating timestamps.
func ToTimer(item TimerItem) (model.Timer, error) {
	t := model.Timer{
		ID:                    item.TimerID,
		VenueID:               item.VenueID,
		Label:                 item.Label,
		Type:                  model.TimerType(item.TimerType),
		DurationSeconds:       item.DurationSeconds,
		Status:                model.TimerStatus(item.Status),
		AlertType:             model.AlertType(item.AlertType),
		Critical:              item.Critical,
		Station:               item.Station,
		Notes:                 item.Notes,
		Icon:                  item.Icon,
		AccumulatedPausedSecs: item.AccumulatedPausedSecs,
	}
	var err error
	t.StartedAt, err = time.Parse(time.RFC3339Nano, item.StartedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse started_at: %w", err)
	}
	if item.PausedAt != nil {
		v, err := time.Parse(time.RFC3339Nano, *item.PausedAt)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse paused_at: %w", err)
		}
		t.PausedAt = &v
	}
	if item.SnoozedUntil != nil {
		v, err := time.Parse(time.RFC3339Nano, *item.SnoozedUntil)
		if err != nil {
			return model.Timer{}, fmt.Errorf("parse snoozed_until: %w", err)
		}
		t.SnoozedUntil = &v
	}
	t.CreatedAt, err = time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse created_at: %w", err)
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return model.Timer{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

// FromChange converts a change-log row for the feed.
func FromChange(c model.Change) ChangeItem {
	item := ChangeItem{
		Seq:        c.Seq,
		ChangeID:   c.ChangeID,
		VenueID:    c.VenueID,
		TimerID:    c.TimerID,
		Kind:       string(c.Kind),
		RecordedAt: c.RecordedAt,
	}
	if c.Timer != nil {
		v := FromTimer(*c.Timer)
		item.Timer = &v
	}
	return item
}
