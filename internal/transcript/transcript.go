// Package transcript reconstructs turn-based chat history from the two
// incremental transcription streams of a live conversation.
//
// The remote endpoint transcribes both directions while the conversation
// runs: fragments of what the learner said and fragments of what the model
// said arrive interleaved and in pieces. A [Reconstructor] keeps one buffer
// per direction and turns them into finished [ChatMessage] values:
//
//  1. A fragment is appended to its direction's buffer unchanged. Fragments
//     of one direction arrive in order and are never reordered.
//
//  2. On a turn-complete signal every buffer whose trimmed content is
//     non-empty becomes one message, and is cleared. The user message is
//     emitted before the model message.
//
//  3. When a session ends early, [Reconstructor.Flush] applies the same
//     rule so nothing said is lost.
//
// Clearing an empty buffer emits nothing, so duplicate turn-complete signals
// and repeated flushes are harmless.
package transcript

import (
	"fmt"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	// RoleUser is the learner.
	RoleUser Role = "user"

	// RoleModel is the remote conversation partner.
	RoleModel Role = "model"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// ChatMessage is one finished turn. It is never modified once emitted.
type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// String renders the message as "role: text".
func (m ChatMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Text)
}

// Reconstructor holds the per-direction accumulators of one session.
// It is not safe for concurrent use; the owning session serializes access.
type Reconstructor struct {
	// incoming is what the model said, outgoing what the learner said.
	incoming strings.Builder
	outgoing strings.Builder

	// last is the direction that received the most recent fragment.
	last Role
}

// New returns an empty Reconstructor.
func New() *Reconstructor {
	return &Reconstructor{}
}

// Append adds a fragment to role's buffer. Fragments for unknown roles are
// ignored.
func (r *Reconstructor) Append(role Role, fragment string) {
	switch role {
	case RoleUser:
		r.outgoing.WriteString(fragment)
	case RoleModel:
		r.incoming.WriteString(fragment)
	default:
		return
	}
	r.last = role
}

// TurnComplete finalizes both buffers and returns the emitted messages,
// user first.
func (r *Reconstructor) TurnComplete() []ChatMessage {
	var out []ChatMessage
	if m, ok := take(&r.outgoing, RoleUser); ok {
		out = append(out, m)
	}
	if m, ok := take(&r.incoming, RoleModel); ok {
		out = append(out, m)
	}
	return out
}

// Flush finalizes whatever is buffered at session end. It follows the same
// rule as TurnComplete.
func (r *Reconstructor) Flush() []ChatMessage {
	return r.TurnComplete()
}

// Preview returns the role and untrimmed content of the buffer that most
// recently received a fragment, for live display. It returns an empty
// string once that buffer has been finalized.
func (r *Reconstructor) Preview() (Role, string) {
	switch r.last {
	case RoleUser:
		return RoleUser, r.outgoing.String()
	case RoleModel:
		return RoleModel, r.incoming.String()
	}
	return "", ""
}

// Pending reports whether either buffer holds non-whitespace text.
func (r *Reconstructor) Pending() bool {
	return strings.TrimSpace(r.outgoing.String()) != "" || strings.TrimSpace(r.incoming.String()) != ""
}

func take(b *strings.Builder, role Role) (ChatMessage, bool) {
	text := strings.TrimSpace(b.String())
	b.Reset()
	if text == "" {
		return ChatMessage{}, false
	}
	return ChatMessage{Role: role, Text: text}, true
}
