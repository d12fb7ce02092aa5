// Command lexicoach starts a spoken vocabulary practice session in the
// terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MrWong99/lexicoach/internal/app"
	"github.com/MrWong99/lexicoach/internal/config"
	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/observe"
	"github.com/MrWong99/lexicoach/internal/resilience"
	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/tui"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
	"github.com/MrWong99/lexicoach/pkg/provider/live/gemini"
	"github.com/MrWong99/lexicoach/pkg/provider/live/genailive"
)

const defaultConfigPath = "lexicoach.yaml"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	words := flag.String("words", "", "comma separated target words, overrides lesson.words")
	scene := flag.String("scene", "", "role-play scene, overrides lesson.scene")
	headless := flag.Bool("headless", false, "run without the terminal UI and log to stderr")
	recent := flag.Int("recent", 0, "print the N most recent sessions from history and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, loaded, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexicoach: %v\n", err)
		return 1
	}
	if *words != "" {
		cfg.Lesson.Words = lesson.ParseWords(*words)
	}
	if *scene != "" {
		cfg.Lesson.Scene = *scene
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal UI owns the screen, so it logs to a file instead.
	var logOut io.Writer = os.Stderr
	if !*headless && *recent == 0 {
		f, err := openLogFile()
		if err != nil {
			fmt.Fprintf(os.Stderr, "lexicoach: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(cfg.Server.LogLevel, logOut)
	slog.SetDefault(logger)

	slog.Info("lexicoach starting",
		"version", version,
		"config", *configPath,
		"config_loaded", loaded,
		"provider", cfg.Provider.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildProvider(cfg, reg)
	if err != nil {
		slog.Error("failed to build provider", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	var opts []app.Option
	if loaded {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, provider, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	code := 0
	if *recent > 0 {
		code = printRecent(ctx, application, *recent)
	} else {
		if !*headless {
			printStartupSummary(cfg)
		}
		if err := application.Run(ctx, newHost(application.Sessions().DefaultRequest(), *headless)); err != nil &&
			!errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path. A missing file at the default path falls back to
// the built-in defaults so that `lexicoach -words ...` works without one.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) || path != defaultConfigPath {
		return nil, false, err
	}
	cfg = config.Default()
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func newHost(req session.Request, headless bool) app.Host {
	if headless {
		return &app.Headless{Request: req, Out: os.Stdout}
	}
	return &tui.Host{Request: req}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live providers that ship with
// lexicoach into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register(gemini.Name, func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%s: api key required (set provider.api_key or %s)", gemini.Name, config.EnvAPIKey)
		}
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.Register(genailive.Name, func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("%s: api key required (set provider.api_key or %s)", genailive.Name, config.EnvAPIKey)
		}
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})
}

// buildProvider creates the configured provider, wrapped in a
// [resilience.Failover] when fallback providers are configured.
func buildProvider(cfg *config.Config, reg *config.Registry) (live.Provider, error) {
	primary, err := reg.Create(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if len(cfg.FallbackProviders) == 0 {
		return primary, nil
	}

	bcfg := resilience.BreakerConfig{
		MaxFailures: cfg.Failover.MaxFailures,
		Cooldown:    cfg.Failover.Cooldown,
	}
	f := resilience.NewFailover(primary, bcfg)
	for _, entry := range cfg.FallbackProviders {
		if entry.APIKey == "" {
			entry.APIKey = cfg.Provider.APIKey
		}
		p, err := reg.Create(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback provider: %w", err)
		}
		f.WithFallback(p, bcfg)
	}
	slog.Info("provider failover enabled", "order", f.Providers())
	return f, nil
}

// ── History ───────────────────────────────────────────────────────────────────

func printRecent(ctx context.Context, a *app.App, limit int) int {
	records, err := a.Recent(ctx, limit)
	if err != nil {
		slog.Error("failed to list history", "err", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Println("No sessions yet.")
		return 0
	}
	for _, r := range records {
		fmt.Printf("%s  %-36s  %2d/%-2d words  %3d messages  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.ID,
			len(r.UsedWords), len(r.Words),
			len(r.Messages),
			r.Scene,
		)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       lexicoach · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Provider        : %-19s ║\n", cfg.Provider.Name)
	if cfg.Provider.Model != "" {
		fmt.Printf("║  Model           : %-19s ║\n", truncate(cfg.Provider.Model, 19))
	}
	if n := len(cfg.FallbackProviders); n > 0 {
		fmt.Printf("║  Fallbacks       : %-19d ║\n", n)
	}
	fmt.Printf("║  Target words    : %-19d ║\n", len(cfg.Lesson.Words))
	history := string(cfg.History.Driver)
	if history == "" {
		history = "(disabled)"
	}
	fmt.Printf("║  History         : %-19s ║\n", history)
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Logging ───────────────────────────────────────────────────────────────────

// openLogFile opens the log file used while the terminal UI runs.
func openLogFile() (*os.File, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "lexicoach")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "lexicoach.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
