package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prepline/kitchend/internal/db"
	"github.com/prepline/kitchend/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "kitchend-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// NewTimer builds a RUNNING countdown with sensible defaults anchored at the
// given start instant.
func NewTimer(venueID, label string, durationSeconds int64, startedAt time.Time) model.Timer {
	startedAt = startedAt.UTC()
	return model.Timer{
		ID:              uuid.NewString(),
		VenueID:         venueID,
		Label:           label,
		Type:            model.TypeCountdown,
		DurationSeconds: durationSeconds,
		Status:          model.StatusRunning,
		AlertType:       model.AlertChime,
		StartedAt:       startedAt,
		CreatedAt:       startedAt,
		UpdatedAt:       startedAt,
	}
}

// SeedTimer persists the record and fails the test on any error.
func SeedTimer(t *testing.T, store *db.Store, ctx context.Context, timer model.Timer) model.Timer {
	t.Helper()
	if _, _, err := store.ApplyUpsert(ctx, timer); err != nil {
		t.Fatalf("seed timer %s: %v", timer.Label, err)
	}
	return timer
}
