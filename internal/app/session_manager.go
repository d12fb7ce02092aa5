package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/lexicoach/internal/config"
	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/observe"
	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/transcript"
	"github.com/MrWong99/lexicoach/pkg/audio/capture"
	"github.com/MrWong99/lexicoach/pkg/audio/playback"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// saveTimeout bounds one history write.
const saveTimeout = 10 * time.Second

var (
	// ErrSessionActive is returned by [SessionManager.Start] while another
	// session is still connecting or connected.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when a control is used before any session
	// was started.
	ErrNoSession = errors.New("app: no session")
)

// SessionManager owns the current conversation. Only one session can be
// connecting or connected at a time; a session that reached a terminal state
// is replaced by the next Start. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	provider   live.Provider
	device     capture.Device
	openOutput playback.OpenFunc
	store      history.Store
	metrics    *observe.Metrics
	matcher    transcript.PhoneticMatcher

	mu      sync.Mutex
	cfg     *config.Config
	current *session.Session
	closing bool // set by Shutdown; guards saves.Add

	saves sync.WaitGroup
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config     *config.Config
	Provider   live.Provider
	Device     capture.Device
	OpenOutput playback.OpenFunc

	// Store receives every completed session. Nil disables history.
	Store   history.Store
	Metrics *observe.Metrics
	Matcher transcript.PhoneticMatcher
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(c SessionManagerConfig) *SessionManager {
	return &SessionManager{
		provider:   c.Provider,
		device:     c.Device,
		openOutput: c.OpenOutput,
		store:      c.Store,
		metrics:    c.Metrics,
		matcher:    c.Matcher,
		cfg:        c.Config,
	}
}

// DefaultRequest builds a request from the configured learner and lesson.
func (sm *SessionManager) DefaultRequest() session.Request {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return session.Request{
		Profile: sm.cfg.Learner,
		Lesson:  sm.cfg.Lesson,
	}
}

// ApplyConfig makes cfg the config for the next session. The running
// session is not affected.
func (sm *SessionManager) ApplyConfig(cfg *config.Config) {
	sm.mu.Lock()
	old := sm.cfg
	sm.cfg = cfg
	sm.mu.Unlock()

	d := config.Diff(old, cfg)
	if d.RestartRequired {
		slog.Warn("config change needs a restart to take effect", "sections", d.RestartSections)
	}
	if d.LessonChanged || d.LearnerChanged || d.SessionChanged {
		slog.Info("next session will use the updated config",
			"lesson", d.LessonChanged,
			"learner", d.LearnerChanged,
			"session", d.SessionChanged,
		)
	}
}

// Start creates a session from the current config and starts it. cb is
// wrapped so that completed sessions are written to the history store
// before the host's OnComplete runs.
func (sm *SessionManager) Start(ctx context.Context, req session.Request, cb session.Callbacks) (*session.Session, error) {
	sm.mu.Lock()
	prev := sm.current
	if prev != nil && !prev.Status().Terminal() {
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, prev.ID())
	}
	var opts []session.Option
	if sm.metrics != nil {
		opts = append(opts, session.WithMetrics(sm.metrics))
	}
	if sm.matcher != nil {
		opts = append(opts, session.WithMatcher(sm.matcher))
	}
	sess := session.New(sm.provider, sm.device, sm.openOutput, SessionConfig(sm.cfg), opts...)
	sm.current = sess
	sm.mu.Unlock()

	onComplete := cb.OnComplete
	cb.OnComplete = func(res session.Result) {
		sm.save(res)
		if onComplete != nil {
			onComplete(res)
		}
	}

	// Start notifies the host synchronously, so the lock is not held here.
	if err := sess.Start(ctx, req, cb); err != nil {
		sm.mu.Lock()
		if sm.current == sess {
			sm.current = prev
		}
		sm.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// Current returns the most recently started session, or nil.
func (sm *SessionManager) Current() *session.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// ToggleMute flips the mute state of the current session.
func (sm *SessionManager) ToggleMute() (bool, error) {
	s := sm.Current()
	if s == nil {
		return false, ErrNoSession
	}
	return s.ToggleMute(), nil
}

// End completes the current session.
func (sm *SessionManager) End() error {
	s := sm.Current()
	if s == nil {
		return ErrNoSession
	}
	return s.End()
}

// Cancel abandons the current session.
func (sm *SessionManager) Cancel() error {
	s := sm.Current()
	if s == nil {
		return ErrNoSession
	}
	return s.Cancel()
}

// Shutdown cancels a session that is still running and waits for pending
// history writes until ctx is done. Sessions completing after this point are
// not saved.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closing = true
	s := sm.current
	sm.mu.Unlock()

	if s != nil {
		if err := s.Cancel(); err == nil {
			slog.Info("cancelled running session on shutdown", "session_id", s.ID())
		}
	}

	waited := make(chan struct{})
	go func() {
		sm.saves.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for history writes: %w", ctx.Err())
	}
}

// save writes res to the history store in the background.
func (sm *SessionManager) save(res session.Result) {
	if sm.store == nil {
		return
	}
	rec := history.FromResult(res)
	sm.mu.Lock()
	if sm.closing {
		sm.mu.Unlock()
		slog.Warn("session completed during shutdown, not saved", "session_id", rec.ID)
		return
	}
	sm.saves.Add(1)
	sm.mu.Unlock()
	go func() {
		defer sm.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := sm.store.SaveSession(ctx, rec); err != nil {
			slog.Warn("failed to save session history", "session_id", rec.ID, "err", err)
			return
		}
		slog.Debug("session history saved", "session_id", rec.ID, "messages", len(rec.Messages))
	}()
}

// SessionConfig maps the audio and session sections of cfg onto a
// [session.Config].
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Capture: capture.Config{
			SampleRate: cfg.Audio.CaptureSampleRate,
			BlockSize:  cfg.Audio.CaptureBlockSize,
			Constraints: capture.Constraints{
				EchoCancellation: cfg.Audio.EchoCancellation,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
				AutoGainControl:  cfg.Audio.AutoGainControl,
				DeviceName:       cfg.Audio.InputDevice,
			},
		},
		PlaybackSampleRate: cfg.Audio.PlaybackSampleRate,
		Voice:              cfg.Provider.Voice,
		SlowConnectAfter:   cfg.Session.SlowConnectAfter,
		ConnectTimeout:     cfg.Session.ConnectTimeout,
		SkipGreeting:       !cfg.Session.GreetFirst,
	}
}
