// Package live defines the provider-agnostic interface for duplex audio
// conversation sessions with a remote model.
//
// A [Provider] opens a [Session]: capture frames flow upstream through
// [Session.SendAudio], and the remote side's speech, both transcription
// directions and turn boundaries arrive multiplexed on [Session.Events].
//
// Implementations live in sub-packages (gemini, genai) and a test double in
// mock.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/lexicoach/pkg/audio"
)

var (
	// ErrHandshake is matched by every [*HandshakeError].
	ErrHandshake = errors.New("live: handshake failed")

	// ErrTransport marks a stream that dropped after the handshake.
	ErrTransport = errors.New("live: transport error")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("live: session closed")
)

// HandshakeError reports that the remote endpoint rejected or failed to open
// the stream.
type HandshakeError struct {
	// Code is the websocket close code or HTTP status the endpoint answered
	// with, or 0 when the failure happened before any response.
	Code int

	// Reason is the endpoint's explanation, if it gave one.
	Reason string

	Err error
}

func (e *HandshakeError) Error() string {
	msg := "live: handshake failed"
	switch {
	case e.Code != 0 && e.Reason != "":
		msg = fmt.Sprintf("%s (%d %s)", msg, e.Code, e.Reason)
	case e.Code != 0:
		msg = fmt.Sprintf("%s (%d)", msg, e.Code)
	case e.Reason != "":
		msg += " (" + e.Reason + ")"
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHandshake) true for every HandshakeError.
func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// TransportError wraps err so that it matches [ErrTransport].
func TransportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// EventKind identifies what a server [Event] carries.
type EventKind int

const (
	// EventAudio carries a chunk of model speech in Event.Audio.
	EventAudio EventKind = iota + 1

	// EventInputTranscript carries a fragment of what the user said.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of what the model said.
	EventOutputTranscript

	// EventTurnComplete marks the end of a conversational turn.
	EventTurnComplete

	// EventInterrupted reports that the model stopped speaking because the
	// user talked over it.
	EventInterrupted
)

// String returns the kind's lowercase name.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one inbound server event.
type Event struct {
	Kind EventKind

	// Audio is transport-encoded 16-bit PCM at the session's output rate.
	// Set only for EventAudio.
	Audio string

	// Text is a transcript fragment. Set only for the transcript kinds.
	Text string
}

// SessionConfig holds the parameters for opening a session.
type SessionConfig struct {
	// Instructions is the system instruction for the remote model.
	Instructions string

	// Voice is the provider-specific voice name. Empty selects the default.
	Voice string

	// InputSampleRate is the rate of audio sent with SendAudio. Default 16000.
	InputSampleRate int

	// OutputSampleRate is the rate the endpoint speaks at. Default 24000.
	OutputSampleRate int

	// Transcribe requests transcription of both directions.
	Transcribe bool
}

// WithDefaults returns a copy of c with zero rates replaced by the wire
// defaults.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = audio.CaptureSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = audio.PlaybackSampleRate
	}
	return c
}

// Session is an open duplex stream.
//
// Implementations must be safe for concurrent use: SendAudio is called from
// the capture goroutine while Events is drained by another.
type Session interface {
	// SendAudio streams one capture frame upstream.
	SendAudio(frame audio.Frame) error

	// SendText sends a complete user turn. An empty string is the trigger
	// that prompts the model to speak first.
	SendText(text string) error

	// Events returns the inbound event channel. It is closed when the stream
	// ends for any reason.
	Events() <-chan Event

	// Err returns nil after a clean close and an error matching ErrTransport
	// after a dropped stream. Only meaningful once Events is closed.
	Err() error

	// Close terminates the stream. It is idempotent.
	Close() error
}

// Provider opens sessions against one remote endpoint.
type Provider interface {
	// Connect dials the endpoint and returns once the endpoint has
	// acknowledged the session setup. Failures match [ErrHandshake].
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}
