// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and to control when a handshake
// resolves. Use Session to feed inbound events and inspect what the
// orchestrator sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "Hi"})
//	sess.Finish(nil) // clean remote close
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lexicoach/pkg/audio"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// ─── Provider ────────────────────────────────────────────────────────────────

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, a fresh Session is created.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, when non-nil, holds Connect until it is closed.
	Gate chan struct{}

	// IgnoreContext makes a gated Connect wait for Gate even after its
	// context is cancelled, then succeed. This models a handshake that
	// resolves after the caller gave up.
	IgnoreContext bool

	// Entered, when non-nil, receives a value as Connect starts waiting.
	Entered chan struct{}

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	connectCalls []ConnectCall
}

var _ live.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.connectCalls = append(p.connectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate, entered, ignore := p.Gate, p.Entered, p.IgnoreContext
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, &live.HandshakeError{Err: ctx.Err()}
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Name implements live.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// ConnectCalls returns a copy of every recorded Connect call.
func (p *Provider) ConnectCalls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.connectCalls))
	copy(out, p.connectCalls)
	return out
}

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of live.Session. Its events channel is
// closed by Close or Finish, whichever comes first.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, SendTextErr and CloseErr are returned by the
	// corresponding methods.
	SendAudioErr error
	SendTextErr  error
	CloseErr     error

	// OnClose runs inside Close on every call.
	OnClose func()

	// chMu keeps Emit from sending on a closed events channel.
	chMu      sync.RWMutex
	events    chan live.Event
	endOnce   sync.Once
	ended     chan struct{}
	err       error
	audio     []audio.Frame
	texts     []string
	closeCall int
}

var _ live.Session = (*Session)(nil)

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		ended:  make(chan struct{}),
	}
}

// SendAudio records the frame.
func (s *Session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audio = append(s.audio, frame)
	return nil
}

// SendText records the text.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.texts = append(s.texts, text)
	return nil
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream cleanly and records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCall++
	hook := s.OnClose
	err := s.CloseErr
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	s.end(nil)
	return err
}

// Emit delivers ev to the events channel. It returns false if the stream has
// already ended.
func (s *Session) Emit(ev live.Event) bool {
	s.chMu.RLock()
	defer s.chMu.RUnlock()
	select {
	case <-s.ended:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ended:
		return false
	}
}

// Finish ends the stream as the remote side would: nil for a clean close,
// otherwise err is reported by Err wrapped as a transport error.
func (s *Session) Finish(err error) {
	s.end(live.TransportError(err))
}

func (s *Session) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ended)
		s.chMu.Lock()
		close(s.events)
		s.chMu.Unlock()
	})
}

// Done is closed once the stream has ended.
func (s *Session) Done() <-chan struct{} { return s.ended }

// SentAudio returns a copy of every frame passed to SendAudio.
func (s *Session) SentAudio() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.audio))
	copy(out, s.audio)
	return out
}

// SentText returns a copy of every string passed to SendText.
func (s *Session) SentText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCall
}
