package tui

import "github.com/MrWong99/lexicoach/internal/session"

// UpdateMsg carries a session snapshot.
type UpdateMsg struct {
	Update session.Update
}

// CompletedMsg is sent once the session was ended and its result is ready.
type CompletedMsg struct {
	Result session.Result
}

// CancelledMsg is sent after the session was cancelled and torn down.
type CancelledMsg struct{}

// StartErrorMsg is sent when the session could not be started.
type StartErrorMsg struct {
	Err error
}

// ActionErrorMsg is sent when a mute, end or cancel request failed.
type ActionErrorMsg struct {
	Action string
	Err    error
}
