// Package lesson holds what a conversation lesson is about (the learner,
// the scene and the target vocabulary) and renders it into the system
// instruction sent to the live model.
//
// The session core treats every string here as opaque; only this package
// knows how they are phrased for the model.
package lesson

import (
	"errors"
	"fmt"
	"strings"
)

// Profile describes the learner.
type Profile struct {
	Name           string `yaml:"name"            json:"name"`
	Occupation     string `yaml:"occupation"      json:"occupation"`
	Level          string `yaml:"level"           json:"level"`
	NativeLanguage string `yaml:"native_language" json:"native_language"`
}

// Lesson is one practice conversation.
type Lesson struct {
	// Words are the target words or short phrases the learner should use.
	Words []string `yaml:"words" json:"words"`

	// Scene is a free-text role-play description, e.g. "You're a barista;
	// I'm ordering coffee."
	Scene string `yaml:"scene" json:"scene"`
}

// Validate reports every problem with l. It returns nil for a usable lesson.
func Validate(l Lesson) error {
	var errs []error
	if len(l.Words) == 0 {
		errs = append(errs, errors.New("lesson: at least one target word is required"))
	}
	seen := make(map[string]int, len(l.Words))
	for i, w := range l.Words {
		key := strings.ToLower(strings.TrimSpace(w))
		if key == "" {
			errs = append(errs, fmt.Errorf("lesson: words[%d] is empty", i))
			continue
		}
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("lesson: words[%d] %q duplicates words[%d]", i, w, prev))
			continue
		}
		seen[key] = i
	}
	return errors.Join(errs...)
}

// Normalize returns a copy of l with trimmed words and scene. Empty words
// are dropped.
func Normalize(l Lesson) Lesson {
	out := Lesson{Scene: strings.TrimSpace(l.Scene)}
	for _, w := range l.Words {
		if w = strings.TrimSpace(w); w != "" {
			out.Words = append(out.Words, w)
		}
	}
	return out
}

// ParseWords splits a comma separated list such as the -words flag.
func ParseWords(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// BuildInstruction renders the system instruction for one session. It is
// pure and safe for concurrent use. Empty profile fields are left out.
func BuildInstruction(p Profile, l Lesson) string {
	var sb strings.Builder

	// ── Role ─────────────────────────────────────────────────────────────────
	sb.WriteString("You are a friendly English conversation partner. ")
	sb.WriteString("Stay in character, keep your replies short and spoken, and always speak first.")
	if scene := strings.TrimSpace(l.Scene); scene != "" {
		sb.WriteString("\n\n## Scene\n")
		sb.WriteString(scene)
	}

	// ── Learner ──────────────────────────────────────────────────────────────
	if learner := formatLearner(p); learner != "" {
		sb.WriteString("\n\n## Learner\n")
		sb.WriteString(learner)
	}

	// ── Vocabulary ───────────────────────────────────────────────────────────
	if len(l.Words) > 0 {
		sb.WriteString("\n\n## Target Words\n")
		sb.WriteString("Steer the conversation so the learner has natural chances to use these words. ")
		sb.WriteString("Do not list them or say them first.\n")
		for _, w := range l.Words {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(w))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatLearner(p Profile) string {
	var lines []string
	if p.Name != "" {
		lines = append(lines, "Name: "+p.Name)
	}
	if p.Occupation != "" {
		lines = append(lines, "Occupation: "+p.Occupation)
	}
	if p.Level != "" {
		lines = append(lines, "English level: "+p.Level)
	}
	if p.NativeLanguage != "" {
		lines = append(lines, "Native language: "+p.NativeLanguage)
	}
	return strings.Join(lines, "\n")
}
