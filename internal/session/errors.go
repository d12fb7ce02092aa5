package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/lexicoach/pkg/audio/capture"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

var (
	// ErrCleanup is matched by every [CleanupError].
	ErrCleanup = errors.New("session: cleanup failed")

	// ErrNotRunning is returned by End and Cancel before Start, after the
	// session was already ended or cancelled, and after it failed.
	ErrNotRunning = errors.New("session: not running")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrOutputUnavailable wraps failures to open the speaker.
	ErrOutputUnavailable = errors.New("session: audio output unavailable")
)

// CleanupError reports one failed teardown step. Cleanup errors are logged
// and counted but never end up in the session's status.
type CleanupError struct {
	// Step names the teardown step, e.g. "close_connection".
	Step string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("session: cleanup %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *CleanupError) Unwrap() error { return e.Err }

// Is reports true for [ErrCleanup].
func (e *CleanupError) Is(target error) bool { return target == ErrCleanup }

// FailureCategory groups terminal errors by what the learner can do about
// them.
type FailureCategory int

const (
	CategoryNone FailureCategory = iota
	CategoryPermission
	CategoryDevice
	CategoryHandshake
	CategoryTransport
	CategoryGeneric
)

func (c FailureCategory) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryPermission:
		return "permission"
	case CategoryDevice:
		return "device"
	case CategoryHandshake:
		return "handshake"
	case CategoryTransport:
		return "transport"
	default:
		return "generic"
	}
}

// Category maps err onto a [FailureCategory]. A nil error is CategoryNone.
func Category(err error) FailureCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, capture.ErrPermissionDenied):
		return CategoryPermission
	case errors.Is(err, capture.ErrDeviceNotFound),
		errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, ErrOutputUnavailable):
		return CategoryDevice
	case errors.Is(err, live.ErrHandshake):
		return CategoryHandshake
	case errors.Is(err, live.ErrTransport):
		return CategoryTransport
	default:
		return CategoryGeneric
	}
}

// UserMessage returns the diagnostic shown to the learner for c.
func UserMessage(c FailureCategory) string {
	switch c {
	case CategoryNone:
		return ""
	case CategoryPermission:
		return "Microphone access was denied. Allow microphone access for this terminal in your system settings, then start a new session."
	case CategoryDevice:
		return "No usable microphone or speaker was found. Check that one is connected and not used by another program, then start a new session."
	case CategoryHandshake:
		return "Could not connect to the conversation partner. Please start a new session to try again."
	case CategoryTransport:
		return "The connection was lost. Start a new session to keep practising."
	default:
		return "Something went wrong. Please start a new session."
	}
}
