package session

// Status is the connection lifecycle state of a [Session].
type Status int

const (
	// StatusIdle is the state before Start.
	StatusIdle Status = iota

	// StatusConnecting covers microphone acquisition and the remote
	// handshake.
	StatusConnecting

	// StatusConnected means the remote side acknowledged the stream and the
	// microphone is streaming.
	StatusConnected

	// StatusError is terminal. Err and the update's Category tell why.
	StatusError

	// StatusEnded is terminal. The stream was closed cleanly by either side.
	StatusEnded
)

// String returns the lowercase state name used in logs and the UI.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusEnded
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// A local End or Cancel may end a session that is still connecting.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusConnecting
	case StatusConnecting:
		return next == StatusConnected || next == StatusError || next == StatusEnded
	case StatusConnected:
		return next == StatusError || next == StatusEnded
	case StatusError, StatusEnded:
		return false
	default:
		return false
	}
}
