package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lexicoach/internal/lesson"
)

// EnvAPIKey names the environment variable that overrides provider.api_key.
const EnvAPIKey = "LEXICOACH_API_KEY"

// ValidProviderNames lists the known live provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live", "genai-live"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Provider.APIKey = key
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; set it or " + EnvAPIKey + " before starting a session")
	}

	for i, fb := range cfg.FallbackProviders {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("fallback_providers[%d].name is required", i))
		}
	}
	if cfg.Failover.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("failover.max_failures %d must not be negative", cfg.Failover.MaxFailures))
	}
	if cfg.Failover.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("failover.cooldown %s must not be negative", cfg.Failover.Cooldown))
	}

	// Audio
	if cfg.Audio.CaptureSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d must be positive", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.CaptureBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_block_size %d must be positive", cfg.Audio.CaptureBlockSize))
	}
	if cfg.Audio.PlaybackSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d must be positive", cfg.Audio.PlaybackSampleRate))
	}

	// Session
	if cfg.Session.SlowConnectAfter < 0 {
		errs = append(errs, fmt.Errorf("session.slow_connect_after %s must not be negative", cfg.Session.SlowConnectAfter))
	}
	if cfg.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.connect_timeout %s must not be negative", cfg.Session.ConnectTimeout))
	}
	if cfg.Session.ConnectTimeout > 0 && cfg.Session.ConnectTimeout < cfg.Session.SlowConnectAfter {
		slog.Warn("session.connect_timeout is shorter than session.slow_connect_after; the slow-connect notice will never show",
			"connect_timeout", cfg.Session.ConnectTimeout,
			"slow_connect_after", cfg.Session.SlowConnectAfter,
		)
	}

	// Lesson words may come from the command line instead, so only a
	// non-empty list is checked here.
	if len(cfg.Lesson.Words) > 0 {
		if err := lesson.Validate(cfg.Lesson); err != nil {
			errs = append(errs, err)
		}
	}

	// History
	if !cfg.History.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("history.driver %q is invalid; valid values: sqlite, postgres or empty", cfg.History.Driver))
	}
	if cfg.History.Driver == HistoryPostgres && cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history.driver is postgres"))
	}

	return errors.Join(errs...)
}
