// Package engine holds the client-side timer state for one venue: an
// in-memory store fed by the sync bridge, lifecycle operations that mutate
// it optimistically, and the tick pass that advances statuses.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/prepline/kitchend/internal/model"
	"github.com/prepline/kitchend/internal/timercore"
)

// Store is the in-memory timer set for a single venue. All methods are safe
// for concurrent use. Timers are deep-copied on the way in and out so callers
// can never alias internal state.
type Store struct {
	mu      sync.RWMutex
	venueID string
	timers  map[string]model.Timer
	cfg     timercore.Config
}

func NewStore(venueID string, cfg timercore.Config) *Store {
	return &Store{
		venueID: venueID,
		timers:  make(map[string]model.Timer),
		cfg:     cfg,
	}
}

func (s *Store) VenueID() string { return s.venueID }

// Upsert inserts or replaces the record under its id. Records for another
// venue are dropped. Applying the same record twice converges on the same
// state.
func (s *Store) Upsert(t model.Timer) {
	if t.VenueID != s.venueID || t.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[t.ID] = t.Clone()
}

// Remove deletes the record if present. Unknown ids are a no-op.
func (s *Store) Remove(timerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, timerID)
}

func (s *Store) Get(timerID string) (model.Timer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[timerID]
	if !ok {
		return model.Timer{}, false
	}
	return t.Clone(), true
}

// List returns every timer ordered by creation time, then id for stability.
func (s *Store) List() []model.Timer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers)
}

// ReplaceAll swaps the full state for a server snapshot. Ids absent from the
// snapshot are dropped, everything else is overwritten.
func (s *Store) ReplaceAll(timers []model.Timer) {
	next := make(map[string]model.Timer, len(timers))
	for _, t := range timers {
		if t.VenueID != s.venueID || t.ID == "" {
			continue
		}
		next[t.ID] = t.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = next
}

// RemainingSeconds reports the derived remaining time for the timer, or
// false if the id is unknown.
func (s *Store) RemainingSeconds(timerID string, now time.Time) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[timerID]
	if !ok {
		return 0, false
	}
	return timercore.RemainingSeconds(t, now), true
}

// Urgency reports the derived urgency band for the timer, or false if the
// id is unknown.
func (s *Store) Urgency(timerID string, now time.Time) (model.Urgency, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[timerID]
	if !ok {
		return "", false
	}
	return timercore.UrgencyFor(t, now, s.cfg), true
}

// Progress reports elapsed over duration clamped to [0, 1], or false if the
// id is unknown.
func (s *Store) Progress(timerID string, now time.Time) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[timerID]
	if !ok {
		return 0, false
	}
	return timercore.Progress(t, now), true
}
