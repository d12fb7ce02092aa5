// Package config provides the configuration schema, loader, and provider registry
// for lexicoach.
package config

import (
	"time"

	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// HistoryDriver selects the transcript history backend.
type HistoryDriver string

const (
	// HistoryDisabled keeps no history.
	HistoryDisabled HistoryDriver = ""

	// HistorySQLite stores history in a local SQLite file.
	HistorySQLite HistoryDriver = "sqlite"

	// HistoryPostgres stores history in a PostgreSQL database.
	HistoryPostgres HistoryDriver = "postgres"
)

// IsValid reports whether d is a recognised history driver.
func (d HistoryDriver) IsValid() bool {
	switch d {
	case HistoryDisabled, HistorySQLite, HistoryPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for lexicoach.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`

	// FallbackProviders are tried in order when Provider fails the
	// handshake. An entry without an API key uses Provider's.
	FallbackProviders []ProviderEntry `yaml:"fallback_providers"`
	Failover          FailoverConfig  `yaml:"failover"`

	Audio   AudioConfig    `yaml:"audio"`
	Session SessionConfig  `yaml:"session"`
	Learner lesson.Profile `yaml:"learner"`
	Lesson  lesson.Lesson  `yaml:"lesson"`
	History HistoryConfig  `yaml:"history"`
}

// FailoverConfig tunes the per-provider breakers used with
// FallbackProviders.
type FailoverConfig struct {
	// MaxFailures is the number of consecutive handshake failures after
	// which a provider is skipped. Default: 3.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long a skipped provider stays skipped. Default: 1m.
	Cooldown time.Duration `yaml:"cooldown"`
}

// ServerConfig holds logging and the optional metrics endpoint.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the HTTP endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProviderEntry configures the live conversation endpoint.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live" or
	// "genai-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key. LEXICOACH_API_KEY overrides it.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific live model.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice the model speaks with. Empty keeps the
	// provider default.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig holds the capture and playback parameters.
type AudioConfig struct {
	CaptureSampleRate  int `yaml:"capture_sample_rate"`
	CaptureBlockSize   int `yaml:"capture_block_size"`
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`

	// InputDevice selects a microphone by name. Empty uses the default.
	InputDevice string `yaml:"input_device"`
}

// SessionConfig holds the connection timing knobs.
type SessionConfig struct {
	// SlowConnectAfter is when the "taking longer than expected" notice is
	// shown.
	SlowConnectAfter time.Duration `yaml:"slow_connect_after"`

	// ConnectTimeout bounds the handshake. Zero waits until cancelled.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// GreetFirst makes the model open the conversation.
	GreetFirst bool `yaml:"greet_first"`
}

// HistoryConfig selects where finished conversations are stored.
type HistoryConfig struct {
	Driver HistoryDriver `yaml:"driver"`

	// DSN is the SQLite file path or PostgreSQL connection string. For
	// sqlite an empty DSN uses the default path in the user config dir.
	DSN string `yaml:"dsn"`
}

// Default returns a Config with every default applied. YAML is decoded on
// top of it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Provider: ProviderEntry{
			Name: "gemini-live",
		},
		Audio: AudioConfig{
			CaptureSampleRate:  audio.CaptureSampleRate,
			CaptureBlockSize:   audio.DefaultBlockSize,
			PlaybackSampleRate: audio.PlaybackSampleRate,
			EchoCancellation:   true,
			NoiseSuppression:   true,
			AutoGainControl:    true,
		},
		Session: SessionConfig{
			SlowConnectAfter: 10 * time.Second,
			GreetFirst:       true,
		},
	}
}
