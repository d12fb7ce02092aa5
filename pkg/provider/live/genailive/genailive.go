// Package genailive implements [live.Provider] on top of the official
// Google Gen AI SDK's Live client.
//
// It is an alternative to the gemini package for deployments that prefer the
// SDK's endpoint handling. Events are translated into the same [live.Event]
// stream, so the session orchestrator cannot tell the two apart.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/lexicoach/pkg/audio"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
	_ liveConn      = (*genai.Session)(nil)
)

const (
	// Name is the provider name used in configuration.
	Name = "genai-live"

	defaultModel = "gemini-2.0-flash-live-001"
)

// liveConn is the subset of *genai.Session the provider uses.
type liveConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the SDK's API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the HTTP client handed to the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider with google.golang.org/genai.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements live.Provider.
func (p *Provider) Name() string { return Name }

// Connect opens an SDK live session and waits for setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	cfg = cfg.WithDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
	})
	if err != nil {
		return nil, &live.HandshakeError{Err: fmt.Errorf("genailive: new client: %w", err)}
	}

	conn, err := client.Live.Connect(ctx, p.model, connectConfig(cfg))
	if err != nil {
		return nil, handshakeError("connect", err)
	}

	first, err := awaitSetup(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := newSession(conn, cfg.InputSampleRate)
	go s.receiveLoop(first)
	return s, nil
}

// connectConfig translates a live.SessionConfig into the SDK's config.
func connectConfig(cfg live.SessionConfig) *genai.LiveConnectConfig {
	c := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Instructions != "" {
		c.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		c.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Transcribe {
		c.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		c.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return c
}

// awaitSetup blocks until the first server message. If it is not the setup
// acknowledgement it is returned for normal dispatch. The SDK's Receive
// ignores contexts, so cancellation closes the connection to unblock it.
func awaitSetup(ctx context.Context, conn liveConn) (*genai.LiveServerMessage, error) {
	type result struct {
		msg *genai.LiveServerMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := conn.Receive()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		return nil, &live.HandshakeError{Err: fmt.Errorf("genailive: await setup: %w", ctx.Err())}
	case r := <-ch:
		if r.err != nil {
			return nil, handshakeError("await setup", r.err)
		}
		if r.msg == nil || r.msg.SetupComplete != nil {
			return nil, nil
		}
		return r.msg, nil
	}
}

func handshakeError(op string, err error) error {
	herr := &live.HandshakeError{Err: fmt.Errorf("genailive: %s: %w", op, err)}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		herr.Code = ce.Code
		herr.Reason = ce.Text
	}
	return herr
}

// eventsFromMessage returns the events carried by msg in the order audio,
// input transcript, output transcript, interruption, turn complete.
func eventsFromMessage(msg *genai.LiveServerMessage) []live.Event {
	if msg == nil {
		return nil
	}
	if msg.GoAway != nil {
		slog.Info("genailive: server will close the stream soon", "time_left", msg.GoAway.TimeLeft)
	}
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var out []live.Event
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			out = append(out, live.Event{Kind: live.EventAudio, Audio: audio.EncodeTransport(p.InlineData.Data)})
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out = append(out, live.Event{Kind: live.EventInputTranscript, Text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out = append(out, live.Event{Kind: live.EventOutputTranscript, Text: t.Text})
	}
	if sc.Interrupted {
		out = append(out, live.Event{Kind: live.EventInterrupted})
	}
	if sc.TurnComplete {
		out = append(out, live.Event{Kind: live.EventTurnComplete})
	}
	return out
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      liveConn
	inputRate int
	events    chan live.Event

	// The SDK's websocket allows one writer at a time.
	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}
}

func newSession(conn liveConn, inputRate int) *session {
	return &session{
		conn:      conn,
		inputRate: inputRate,
		events:    make(chan live.Event, 64),
		done:      make(chan struct{}),
	}
}

// receiveLoop owns events and closes it on exit.
func (s *session) receiveLoop(first *genai.LiveServerMessage) {
	defer close(s.events)

	if first != nil && !s.dispatch(first) {
		return
	}
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("genailive: stream closed by server", "err", err)
				return
			}
			s.setErr(live.TransportError(fmt.Errorf("genailive: receive: %w", err)))
			return
		}
		if !s.dispatch(msg) {
			return
		}
	}
}

func (s *session) dispatch(msg *genai.LiveServerMessage) bool {
	for _, ev := range eventsFromMessage(msg) {
		select {
		case s.events <- ev:
		case <-s.done:
			return false
		}
	}
	return true
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio decodes the frame back to PCM bytes for the SDK, which applies
// its own transport encoding.
func (s *session) SendAudio(frame audio.Frame) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}
	pcm, err := audio.DecodeTransport(frame.Data)
	if err != nil {
		return fmt.Errorf("genailive: send audio: %w", err)
	}
	mime := frame.MIMEType
	if mime == "" {
		mime = audio.PCMMIMEType(s.inputRate)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: mime, Data: pcm},
	}); err != nil {
		return fmt.Errorf("genailive: send audio: %w", err)
	}
	return nil
}

func (s *session) SendText(text string) error {
	if s.isClosed() {
		return live.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	}); err != nil {
		return fmt.Errorf("genailive: send text: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan live.Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close is idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("genailive: close: %w", err)
	}
	return nil
}
