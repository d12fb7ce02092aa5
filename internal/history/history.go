// Package history persists finished conversations so a learner can look back
// at what they said and which target words they already used.
//
// Backends live in subpackages: sqlite for a local file and postgres for a
// shared server. Both create their schema on open.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

// ErrDuplicate is returned by SaveSession for an ID that is already stored.
var ErrDuplicate = errors.New("history: session already stored")

// Record is one finished conversation.
type Record struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Learner   lesson.Profile
	Scene     string
	Words     []string
	Messages  []transcript.ChatMessage

	// UsedWords are the target words the learner used, in lesson order.
	UsedWords []string
}

// Store saves and lists records. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveSession stores r with its messages atomically.
	SaveSession(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first, with messages.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases the underlying connection.
	Close() error
}

// FromResult converts a completed session into a Record.
func FromResult(res session.Result) Record {
	r := Record{
		ID:        res.ID,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		Learner:   res.Profile,
		Scene:     res.Lesson.Scene,
		Words:     append([]string(nil), res.Lesson.Words...),
		Messages:  append([]transcript.ChatMessage(nil), res.History...),
	}
	for _, u := range res.Summary.Used {
		r.UsedWords = append(r.UsedWords, u.Word)
	}
	return r
}

// NonNil returns s, or an empty slice when s is nil, so that JSON columns
// hold [] instead of null.
func NonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
