// Package app wires the lexicoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the history store and
// builds the [SessionManager], Run serves the metrics endpoint next to the
// interactive host, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithOutput, WithHistoryStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lexicoach/internal/config"
	"github.com/MrWong99/lexicoach/internal/health"
	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/history/postgres"
	"github.com/MrWong99/lexicoach/internal/history/sqlite"
	"github.com/MrWong99/lexicoach/internal/observe"
	"github.com/MrWong99/lexicoach/internal/transcript"
	"github.com/MrWong99/lexicoach/internal/transcript/phonetic"
	"github.com/MrWong99/lexicoach/pkg/audio/capture"
	"github.com/MrWong99/lexicoach/pkg/audio/playback"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// serverShutdownTimeout bounds the graceful stop of the metrics server.
const serverShutdownTimeout = 5 * time.Second

// Host drives sessions interactively. Run returns when the user is done or
// ctx is cancelled.
type Host interface {
	Run(ctx context.Context, sm *SessionManager) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	provider   live.Provider
	device     capture.Device
	openOutput playback.OpenFunc
	store      history.Store
	metrics    *observe.Metrics
	matcher    transcript.PhoneticMatcher
	configPath string

	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects the microphone instead of the miniaudio device.
func WithDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithOutput injects the speaker opener instead of the oto backend.
func WithOutput(open playback.OpenFunc) Option {
	return func(a *App) { a.openOutput = open }
}

// WithHistoryStore injects a history store instead of opening one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMatcher sets the matcher used for session summaries.
func WithMatcher(m transcript.PhoneticMatcher) Option {
	return func(a *App) { a.matcher = m }
}

// WithConfigPath enables polling path for lesson and learner changes that
// apply to the next session.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App for the given provider. The provider comes from main.go
// (built via the config registry).
func New(ctx context.Context, cfg *config.Config, provider live.Provider, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		provider: provider,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Audio devices and summary matcher ─────────────────────────────
	if a.device == nil {
		a.device = capture.NewMalgoDevice()
	}
	if a.openOutput == nil {
		a.openOutput = playback.OpenOto
	}
	if a.matcher == nil {
		a.matcher = phonetic.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:     cfg,
		Provider:   provider,
		Device:     a.device,
		OpenOutput: a.openOutput,
		Store:      a.store,
		Metrics:    a.metrics,
		Matcher:    a.matcher,
	})

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, next *config.Config) {
			a.sessions.ApplyConfig(next)
		})
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return a, nil
}

// initHistory opens the configured store unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		a.closers = append(a.closers, a.store.Close)
		return nil
	}

	switch a.cfg.History.Driver {
	case config.HistoryDisabled:
		slog.Info("session history disabled")
		return nil
	case config.HistorySQLite:
		path := a.cfg.History.DSN
		if path == "" {
			path = sqlite.DefaultPath()
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return err
		}
		slog.Info("session history enabled", "driver", "sqlite", "path", path)
		a.store = s
	case config.HistoryPostgres:
		s, err := postgres.New(ctx, a.cfg.History.DSN)
		if err != nil {
			return err
		}
		slog.Info("session history enabled", "driver", "postgres")
		a.store = s
	default:
		return fmt.Errorf("unknown history driver %q", a.cfg.History.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Recent returns up to limit stored sessions, newest first. It returns an
// error when history is disabled.
func (a *App) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if a.store == nil {
		return nil, errors.New("app: session history is disabled")
	}
	return a.store.Recent(ctx, limit)
}

// Handler returns the HTTP handler serving /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	checks := []health.Checker{
		health.ProviderReady(func() live.Provider { return a.provider }),
		health.SessionHealthy(a.sessions.Current),
	}
	if a.store != nil {
		checks = append(checks, health.StoreReachable("history", func(ctx context.Context) error {
			_, err := a.store.Recent(ctx, 1)
			return err
		}))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	health.New(checks...).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the metrics endpoint (when server.metrics_addr is set) and runs
// host until it returns or ctx is cancelled. The server is stopped when the
// host returns.
func (a *App) Run(ctx context.Context, host Host) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		slog.Info("metrics endpoint listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return host.Run(gctx, a.sessions)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown cancels a running session, waits for pending history writes and
// then runs the closers. If ctx expires first, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown incomplete", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
