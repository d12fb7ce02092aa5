package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/history/postgres"
	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

// newTestStore connects to the database in LEXICOACH_TEST_POSTGRES_DSN and
// skips the test when it is unset.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("LEXICOACH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEXICOACH_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration test")
	}
	s, err := postgres.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Far-future timestamps keep these rows ahead of anything else in a
	// shared test database.
	base := time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)
	older := record(uuid.NewString(), base)
	newer := record(uuid.NewString(), base.Add(time.Hour))
	for _, r := range []history.Record{older, newer} {
		if err := s.SaveSession(ctx, r); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("Recent returned %d records in wrong order", len(got))
	}
	r := got[0]
	if !r.StartedAt.Equal(newer.StartedAt) || r.Learner != newer.Learner {
		t.Errorf("record = %+v", r)
	}
	if len(r.Messages) != 2 || r.Messages[1] != newer.Messages[1] {
		t.Errorf("messages = %v", r.Messages)
	}
	if len(r.UsedWords) != 1 || r.UsedWords[0] != "resilient" {
		t.Errorf("used words = %v", r.UsedWords)
	}
}

func TestStore_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := record(uuid.NewString(), time.Now())
	if err := s.SaveSession(ctx, r); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession(ctx, r); !errors.Is(err, history.ErrDuplicate) {
		t.Errorf("second SaveSession = %v, want ErrDuplicate", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func record(id string, started time.Time) history.Record {
	return history.Record{
		ID:        id,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Learner:   lesson.Profile{Name: "Ana", Level: "B1"},
		Scene:     "At the airport check-in desk.",
		Words:     []string{"resilient", "itinerary"},
		Messages: []transcript.ChatMessage{
			{Role: transcript.RoleModel, Text: "Passport, please."},
			{Role: transcript.RoleUser, Text: "Here. I stay resilient."},
		},
		UsedWords: []string{"resilient"},
	}
}
