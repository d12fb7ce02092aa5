package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lexicoach/internal/config"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
	"github.com/MrWong99/lexicoach/pkg/provider/live/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"

provider:
  name: genai-live
  api_key: file-key
  model: gemini-2.0-flash-live-001
  voice: Puck

audio:
  capture_block_size: 2048
  echo_cancellation: false
  input_device: USB Headset

session:
  slow_connect_after: 5s
  connect_timeout: 30s
  greet_first: false

learner:
  name: Ana
  occupation: nurse
  level: B1
  native_language: Portuguese

lesson:
  words:
    - resilient
    - meticulous
    - break the ice
  scene: "You're a barista; I'm ordering coffee."

history:
  driver: sqlite
  dsn: /tmp/lexicoach.sqlite
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("server.metrics_addr: got %q", cfg.Server.MetricsAddr)
	}
	if cfg.Provider.Name != "genai-live" || cfg.Provider.Voice != "Puck" {
		t.Errorf("provider: got %+v", cfg.Provider)
	}
	if cfg.Audio.CaptureBlockSize != 2048 {
		t.Errorf("audio.capture_block_size: got %d, want 2048", cfg.Audio.CaptureBlockSize)
	}
	if cfg.Audio.EchoCancellation {
		t.Error("audio.echo_cancellation: got true, want false")
	}
	if cfg.Session.SlowConnectAfter != 5*time.Second || cfg.Session.ConnectTimeout != 30*time.Second {
		t.Errorf("session timings: got %+v", cfg.Session)
	}
	if cfg.Session.GreetFirst {
		t.Error("session.greet_first: got true, want false")
	}
	if cfg.Learner.NativeLanguage != "Portuguese" {
		t.Errorf("learner.native_language: got %q", cfg.Learner.NativeLanguage)
	}
	if len(cfg.Lesson.Words) != 3 || cfg.Lesson.Words[2] != "break the ice" {
		t.Errorf("lesson.words: got %v", cfg.Lesson.Words)
	}
	if cfg.History.Driver != config.HistorySQLite {
		t.Errorf("history.driver: got %q", cfg.History.Driver)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	// Keys absent from the file keep their defaults.
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  input_device: mic\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.Name != "gemini-live" {
		t.Errorf("provider.name: got %q, want gemini-live", cfg.Provider.Name)
	}
	if cfg.Audio.CaptureSampleRate != 16000 || cfg.Audio.CaptureBlockSize != 4096 || cfg.Audio.PlaybackSampleRate != 24000 {
		t.Errorf("audio rates: got %+v", cfg.Audio)
	}
	if !cfg.Audio.EchoCancellation || !cfg.Audio.NoiseSuppression || !cfg.Audio.AutoGainControl {
		t.Errorf("audio constraints should default to true: %+v", cfg.Audio)
	}
	if cfg.Session.SlowConnectAfter != 10*time.Second || !cfg.Session.GreetFirst {
		t.Errorf("session defaults: got %+v", cfg.Session)
	}
	if cfg.History.Driver != config.HistoryDisabled {
		t.Errorf("history.driver: got %q, want disabled", cfg.History.Driver)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "{}"} {
		if _, err := config.LoadFromReader(strings.NewReader(in)); err != nil {
			t.Errorf("LoadFromReader(%q): unexpected error: %v", in, err)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_EnvOverridesAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "env-key")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("provider.api_key: got %q, want env-key", cfg.Provider.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/lexicoach.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.Create(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.Register("fake", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return &mock.Provider{ProviderName: "fake"}, nil
	})
	reg.Register("other", func(config.ProviderEntry) (live.Provider, error) {
		return &mock.Provider{}, nil
	})

	p, err := reg.Create(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "fake" {
		t.Errorf("Name() = %q, want fake", p.Name())
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory got model %q, want m1", gotEntry.Model)
	}
	if _, err := p.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Errorf("Connect: %v", err)
	}

	if names := reg.Names(); len(names) != 2 || names[0] != "fake" || names[1] != "other" {
		t.Errorf("Names() = %v, want [fake other]", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("missing api key")
	reg.Register("broken", func(config.ProviderEntry) (live.Provider, error) {
		return nil, wantErr
	})

	_, err := reg.Create(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error, got %v", err)
	}
}
