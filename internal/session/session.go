// Package session runs one live vocabulary conversation: it acquires the
// microphone and speaker, opens the duplex stream to the remote model, feeds
// capture frames upstream, schedules the model's audio for gapless playback
// and rebuilds the transcript from the streamed fragments.
//
// A [Session] is single use. Once it reaches [StatusError] or [StatusEnded]
// a new Session has to be constructed to talk again.
//
// The capture device, the stream's receive loop and the slow-connect timer
// all call back into the Session from their own goroutines. Every such
// callback first checks, under the lock, that the session has not been
// finished or torn down; a stream that resolves after teardown is closed
// immediately instead of being stored.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/observe"
	"github.com/MrWong99/lexicoach/internal/transcript"
	"github.com/MrWong99/lexicoach/pkg/audio"
	"github.com/MrWong99/lexicoach/pkg/audio/capture"
	"github.com/MrWong99/lexicoach/pkg/audio/playback"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// defaultSlowConnectAfter is how long connecting may take before the host
// is told that it is taking longer than expected.
const defaultSlowConnectAfter = 10 * time.Second

// Teardown step names, used in logs, metrics and [CleanupError].
const (
	stepCloseConnection = "close_connection"
	stepStopTracks      = "stop_tracks"
	stepDisconnect      = "disconnect_graph"
	stepCloseInput      = "close_input"
	stepCloseOutput     = "close_output"
)

// Config holds the per-session tunables.
type Config struct {
	// Capture configures the microphone pipeline.
	Capture capture.Config

	// PlaybackSampleRate is the rate of the model's audio. Default: 24000.
	PlaybackSampleRate int

	// Voice is passed through to the provider.
	Voice string

	// SlowConnectAfter raises the advisory slow-connect signal. Default: 10s.
	SlowConnectAfter time.Duration

	// ConnectTimeout bounds the remote handshake. Zero waits until the
	// session is torn down.
	ConnectTimeout time.Duration

	// SkipGreeting suppresses the empty trigger message that makes the model
	// speak first.
	SkipGreeting bool
}

// Request is what a session is about.
type Request struct {
	Profile lesson.Profile
	Lesson  lesson.Lesson
}

// Update is a snapshot of the session for host-side rendering.
type Update struct {
	ID     string
	Status Status

	// Category and Message are set in StatusError.
	Category FailureCategory
	Message  string

	// SlowConnect is set once connecting took longer than SlowConnectAfter.
	// It is advisory and does not change Status.
	SlowConnect bool

	Muted bool

	// PreviewRole and Preview show the transcript text not yet finalized.
	PreviewRole transcript.Role
	Preview     string

	// History is a copy of every finalized message so far.
	History []transcript.ChatMessage
}

// Result is handed to the completion callback.
type Result struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Profile   lesson.Profile
	Lesson    lesson.Lesson
	History   []transcript.ChatMessage
	Summary   transcript.Summary
}

// Callbacks connect a session to its host. All fields are optional.
//
// Callbacks are invoked one at a time from session goroutines, never with
// the session lock held. They must not block and must not call back into
// the Session synchronously.
type Callbacks struct {
	// OnUpdate receives every status, preview, mute and history change.
	OnUpdate func(Update)

	// OnComplete is called exactly once, by End.
	OnComplete func(Result)

	// OnCancel is called exactly once, by Cancel, after teardown.
	OnCancel func()
}

// ── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithMatcher sets the phonetic matcher used for the completion summary.
// Without one only literal uses of target words are counted.
func WithMatcher(m transcript.PhoneticMatcher) Option {
	return func(s *Session) {
		s.matcher = m
	}
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// ── Session ──────────────────────────────────────────────────────────────────

// Session orchestrates one conversation. All exported methods are safe for
// concurrent use.
type Session struct {
	id         string
	provider   live.Provider
	openOutput playback.OpenFunc
	capture    *capture.Pipeline
	cfg        Config
	metrics    *observe.Metrics
	matcher    transcript.PhoneticMatcher

	// notifyMu serialises OnUpdate so hosts see snapshots in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	status    Status
	started   bool
	finished  bool // End or Cancel was called
	tornDown  bool // liveness flag checked by every async callback
	slow      bool
	err       error
	req       Request
	cb        Callbacks
	startedAt time.Time
	cancel    context.CancelFunc
	conn      live.Session
	output    playback.Output
	scheduler *playback.Scheduler
	recon     *transcript.Reconstructor
	history   []transcript.ChatMessage
	cleanup   error

	done chan struct{}
}

// New returns an idle Session. device provides the microphone, openOutput
// the speaker, provider the remote endpoint.
func New(provider live.Provider, device capture.Device, openOutput playback.OpenFunc, cfg Config, opts ...Option) *Session {
	if cfg.PlaybackSampleRate <= 0 {
		cfg.PlaybackSampleRate = audio.PlaybackSampleRate
	}
	if cfg.SlowConnectAfter <= 0 {
		cfg.SlowConnectAfter = defaultSlowConnectAfter
	}
	s := &Session{
		provider:   provider,
		openOutput: openOutput,
		cfg:        cfg,
		recon:      transcript.New(),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.capture = capture.New(device, cfg.Capture, capture.WithBlockObserver(s.observeBlock))
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error that moved the session into [StatusError], or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// History returns a copy of the finalized messages so far.
func (s *Session) History() []transcript.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.ChatMessage(nil), s.history...)
}

// CleanupErr returns the joined [CleanupError]s of the teardown, if any.
func (s *Session) CleanupErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanup
}

// Done is closed when the session's background goroutine has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start validates req and begins the lifecycle in the background. The
// session moves to [StatusConnecting] before Start returns. Cancelling ctx
// aborts connecting but does not tear down an established session.
func (s *Session) Start(ctx context.Context, req Request, cb Callbacks) error {
	req.Lesson = lesson.Normalize(req.Lesson)
	if err := lesson.Validate(req.Lesson); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.req = req
	s.cb = cb
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session starting",
		"session_id", s.id,
		"provider", s.provider.Name(),
		"words", len(req.Lesson.Words),
	)
	s.notify()

	go s.run(runCtx)
	return nil
}

// ToggleMute flips the microphone mute and returns the new state. Before
// the session is connected it does nothing and returns the current state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	if s.status != StatusConnected || !s.liveLocked() {
		s.mu.Unlock()
		return s.capture.Muted()
	}
	muted := !s.capture.Muted()
	s.capture.SetMuted(muted)
	s.mu.Unlock()

	slog.Debug("session: mute toggled", "session_id", s.id, "muted", muted)
	s.notify()
	return muted
}

// End finalizes the transcript, hands the result to OnComplete and then
// tears the session down. After the remote closed the stream cleanly End
// still completes with the transcript so far. It returns [ErrNotRunning] if
// the session was never started, was already ended or cancelled, or failed.
func (s *Session) End() error {
	s.mu.Lock()
	if !s.closableLocked() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.finished = true
	s.appendLocked(s.recon.Flush())
	s.endLocked()
	res := Result{
		ID:        s.id,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
		Profile:   s.req.Profile,
		Lesson:    s.req.Lesson,
		History:   append([]transcript.ChatMessage(nil), s.history...),
	}
	onComplete := s.cb.OnComplete
	s.mu.Unlock()

	res.Summary = transcript.Summarize(res.History, res.Lesson.Words, s.matcher)
	s.metrics.RecordSession(context.Background(), "completed")
	slog.Info("session ended",
		"session_id", s.id,
		"messages", len(res.History),
		"words_used", len(res.Summary.Used),
		"duration", res.EndedAt.Sub(res.StartedAt),
	)
	s.notify()

	if onComplete != nil {
		onComplete(res)
	}
	s.teardown()
	return nil
}

// Cancel tears the session down without calling OnComplete. OnCancel runs
// afterwards. Like End it returns [ErrNotRunning] once the session failed.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if !s.closableLocked() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.finished = true
	s.endLocked()
	onCancel := s.cb.OnCancel
	s.mu.Unlock()

	s.metrics.RecordSession(context.Background(), "cancelled")
	slog.Info("session cancelled", "session_id", s.id)
	s.notify()

	s.teardown()
	if onCancel != nil {
		onCancel()
	}
	return nil
}

// ── lifecycle ────────────────────────────────────────────────────────────────

// run acquires the devices, connects and then drains the stream's events.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	conn, ok := s.connect(ctx)
	if !ok {
		return
	}

	for ev := range conn.Events() {
		s.handleEvent(ev)
	}

	if err := conn.Err(); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(StatusEnded)
	s.mu.Unlock()

	slog.Info("session: stream closed by remote", "session_id", s.id)
	s.notify()
	s.teardown()
}

// connect runs the connecting state. It returns the stream once the session
// is connected.
func (s *Session) connect(ctx context.Context) (live.Session, bool) {
	ctx, span := observe.StartConnectSpan(ctx, s.id, s.provider.Name())
	defer span.End()
	begin := time.Now()

	slow := time.AfterFunc(s.cfg.SlowConnectAfter, s.signalSlow)
	defer slow.Stop()

	failed := func(err error) (live.Session, bool) {
		span.RecordError(err)
		span.SetStatus(codes.Error, Category(err).String())
		s.fail(err)
		return nil, false
	}

	if err := s.capture.Initialize(ctx); err != nil {
		return failed(fmt.Errorf("session: acquire microphone: %w", err))
	}

	out, err := s.openOutput(s.cfg.PlaybackSampleRate)
	if err != nil {
		return failed(fmt.Errorf("%w: %w", ErrOutputUnavailable, err))
	}
	scheduler := playback.NewScheduler(out, out, s.cfg.PlaybackSampleRate,
		playback.WithDecodeErrorHandler(func(error) {
			s.metrics.DecodeErrors.Add(context.Background(), 1)
		}),
		playback.WithScheduledHandler(func(_, _ int64) {
			s.metrics.PlaybackChunks.Add(context.Background(), 1)
		}),
	)
	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		if err := out.Close(); err != nil {
			slog.Warn("session: closing late output", "session_id", s.id, "err", err)
		}
		return nil, false
	}
	s.output = out
	s.scheduler = scheduler
	req := s.req
	s.mu.Unlock()

	connectCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := s.provider.Connect(connectCtx, live.SessionConfig{
		Instructions:     lesson.BuildInstruction(req.Profile, req.Lesson),
		Voice:            s.cfg.Voice,
		InputSampleRate:  s.capture.Format().SampleRate,
		OutputSampleRate: s.cfg.PlaybackSampleRate,
		Transcribe:       true,
	})
	if err != nil {
		return failed(fmt.Errorf("session: connect: %w", err))
	}

	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		slog.Info("session: stream resolved after teardown, closing", "session_id", s.id)
		if err := conn.Close(); err != nil {
			slog.Warn("session: closing late stream", "session_id", s.id, "err", err)
		}
		return nil, false
	}
	s.conn = conn
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()

	s.metrics.RecordConnect(ctx, s.provider.Name(), time.Since(begin))
	observe.Logger(ctx).Info("session connected",
		"session_id", s.id,
		"provider", s.provider.Name(),
		"took", time.Since(begin),
	)

	if err := s.capture.Start(s.sendFrame); err != nil {
		return failed(fmt.Errorf("session: start capture: %w", err))
	}
	if !s.cfg.SkipGreeting {
		if err := conn.SendText(""); err != nil {
			slog.Warn("session: greeting trigger failed", "session_id", s.id, "err", err)
		}
	}
	s.notify()
	return conn, true
}

func (s *Session) signalSlow() {
	s.mu.Lock()
	if !s.liveLocked() || s.status != StatusConnecting {
		s.mu.Unlock()
		return
	}
	s.slow = true
	s.mu.Unlock()

	s.metrics.SlowConnects.Add(context.Background(), 1)
	slog.Warn("session: connecting is taking longer than expected",
		"session_id", s.id,
		"after", s.cfg.SlowConnectAfter,
	)
	s.notify()
}

// fail moves a live session into StatusError and releases its resources.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		slog.Debug("session: error after teardown ignored", "session_id", s.id, "err", err)
		return
	}
	s.err = err
	s.setStatusLocked(StatusError)
	s.mu.Unlock()

	s.metrics.RecordSession(context.Background(), "error")
	slog.Error("session failed",
		"session_id", s.id,
		"category", Category(err).String(),
		"err", err,
	)
	s.notify()
	s.teardown()
}

// ── callbacks ────────────────────────────────────────────────────────────────

func (s *Session) handleEvent(ev live.Event) {
	s.mu.Lock()
	if !s.liveLocked() {
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case live.EventAudio:
		scheduler := s.scheduler
		s.mu.Unlock()
		if scheduler == nil {
			return
		}
		if _, err := scheduler.Enqueue(ev.Audio); err != nil && !errors.Is(err, audio.ErrDecode) {
			slog.Warn("session: scheduling playback", "session_id", s.id, "err", err)
		}
		return

	case live.EventInputTranscript:
		s.recon.Append(transcript.RoleUser, ev.Text)

	case live.EventOutputTranscript:
		s.recon.Append(transcript.RoleModel, ev.Text)

	case live.EventTurnComplete:
		s.appendLocked(s.recon.TurnComplete())

	case live.EventInterrupted:
		s.mu.Unlock()
		slog.Debug("session: model interrupted by learner", "session_id", s.id)
		return

	default:
		s.mu.Unlock()
		slog.Debug("session: ignoring event", "session_id", s.id, "kind", ev.Kind)
		return
	}
	s.mu.Unlock()
	s.notify()
}

// sendFrame runs on the capture goroutine for every unmuted block.
func (s *Session) sendFrame(f audio.Frame) {
	s.mu.Lock()
	conn := s.conn
	alive := s.liveLocked()
	s.mu.Unlock()
	if !alive || conn == nil {
		return
	}

	if err := conn.SendAudio(f); err != nil {
		s.metrics.RecordCaptureFrame(context.Background(), "failed")
		slog.Debug("session: dropping capture frame", "session_id", s.id, "err", err)
		return
	}
	s.metrics.RecordCaptureFrame(context.Background(), "sent")
}

func (s *Session) observeBlock(muted bool) {
	if muted {
		s.metrics.RecordCaptureFrame(context.Background(), "muted")
	}
}

// ── teardown ─────────────────────────────────────────────────────────────────

// teardown releases everything the session owns. Steps run in a fixed
// order and each runs even if an earlier one failed. It is idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	conn, out, cancel := s.conn, s.output, s.cancel
	s.conn, s.output = nil, nil
	s.mu.Unlock()

	// Abort microphone acquisition or a pending handshake.
	if cancel != nil {
		cancel()
	}

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			cerr := &CleanupError{Step: name, Err: err}
			s.metrics.RecordCleanupError(context.Background(), name)
			slog.Warn("session: cleanup step failed", "session_id", s.id, "step", name, "err", err)
			errs = append(errs, cerr)
		}
	}
	step(stepCloseConnection, func() error {
		if conn == nil {
			return nil
		}
		return conn.Close()
	})
	step(stepStopTracks, s.capture.StopTracks)
	step(stepDisconnect, s.capture.Disconnect)
	step(stepCloseInput, s.capture.Close)
	step(stepCloseOutput, func() error {
		if out == nil {
			return nil
		}
		return out.Close()
	})

	s.mu.Lock()
	s.cleanup = errors.Join(errs...)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Debug("session: torn down", "session_id", s.id, "cleanup_errors", len(errs))
}

// ── helpers ──────────────────────────────────────────────────────────────────

// liveLocked reports whether async callbacks may still mutate state.
func (s *Session) liveLocked() bool {
	return !s.finished && !s.tornDown
}

func (s *Session) setStatusLocked(next Status) {
	if !s.status.CanTransition(next) {
		slog.Debug("session: ignoring transition", "session_id", s.id, "from", s.status, "to", next)
		return
	}
	s.status = next
}

// endLocked records a local close.
func (s *Session) endLocked() {
	if !s.status.Terminal() {
		s.setStatusLocked(StatusEnded)
	}
}

// closableLocked reports whether End or Cancel may still act. A failed
// session is over for the host; it is never completed or cancelled.
func (s *Session) closableLocked() bool {
	return s.started && !s.finished && s.status != StatusError
}

func (s *Session) appendLocked(msgs []transcript.ChatMessage) {
	for _, m := range msgs {
		s.metrics.RecordTranscriptMessage(context.Background(), string(m.Role))
	}
	s.history = append(s.history, msgs...)
}

func (s *Session) snapshotLocked() Update {
	u := Update{
		ID:          s.id,
		Status:      s.status,
		SlowConnect: s.slow,
		Muted:       s.capture.Muted(),
		History:     append([]transcript.ChatMessage(nil), s.history...),
	}
	u.PreviewRole, u.Preview = s.recon.Preview()
	if s.status == StatusError {
		u.Category = Category(s.err)
		u.Message = UserMessage(u.Category)
	}
	return u
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn := s.cb.OnUpdate
	u := s.snapshotLocked()
	s.mu.Unlock()

	if fn != nil {
		fn(u)
	}
}
