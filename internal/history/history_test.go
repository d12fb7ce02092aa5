package history_test

import (
	"testing"
	"time"

	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

func TestFromResult(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := session.Result{
		ID:        "abc",
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Minute),
		Profile:   lesson.Profile{Name: "Ana"},
		Lesson:    lesson.Lesson{Words: []string{"resilient", "meticulous"}, Scene: "cafe"},
		History: []transcript.ChatMessage{
			{Role: transcript.RoleModel, Text: "Hi"},
			{Role: transcript.RoleUser, Text: "I'm resilient"},
		},
		Summary: transcript.Summary{
			Used:   []transcript.WordUse{{Word: "resilient", Exact: true, Confidence: 1}},
			Unused: []string{"meticulous"},
		},
	}

	r := history.FromResult(res)
	if r.ID != "abc" || r.Scene != "cafe" || r.Learner.Name != "Ana" {
		t.Errorf("record = %+v", r)
	}
	if len(r.Messages) != 2 || len(r.Words) != 2 {
		t.Errorf("messages/words = %d/%d, want 2/2", len(r.Messages), len(r.Words))
	}
	if len(r.UsedWords) != 1 || r.UsedWords[0] != "resilient" {
		t.Errorf("UsedWords = %v", r.UsedWords)
	}

	// The record must not alias the result.
	res.History[0].Text = "changed"
	if r.Messages[0].Text != "Hi" {
		t.Error("record aliases the result history")
	}
}

func TestNonNil(t *testing.T) {
	t.Parallel()

	if got := history.NonNil[string](nil); got == nil || len(got) != 0 {
		t.Errorf("NonNil(nil) = %#v", got)
	}
	in := []string{"a"}
	if got := history.NonNil(in); len(got) != 1 {
		t.Errorf("NonNil(%v) = %v", in, got)
	}
}
