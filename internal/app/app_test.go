package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lexicoach/internal/app"
	"github.com/MrWong99/lexicoach/internal/config"
	historymock "github.com/MrWong99/lexicoach/internal/history/mock"
	"github.com/MrWong99/lexicoach/internal/lesson"
	"github.com/MrWong99/lexicoach/internal/observe"
	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/transcript"
	capturemock "github.com/MrWong99/lexicoach/pkg/audio/capture/mock"
	playbackmock "github.com/MrWong99/lexicoach/pkg/audio/playback/mock"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
	livemock "github.com/MrWong99/lexicoach/pkg/provider/live/mock"
)

const waitTimeout = 2 * time.Second

// testConfig returns a config with a small capture block and a lesson.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Provider.APIKey = "test"
	cfg.Audio.CaptureBlockSize = 160
	cfg.Learner = lesson.Profile{Name: "Ana", Occupation: "nurse"}
	cfg.Lesson = lesson.Lesson{
		Words: []string{"resilient", "meticulous"},
		Scene: "You're a barista; I'm ordering coffee.",
	}
	return cfg
}

type fixture struct {
	app      *app.App
	provider *livemock.Provider
	remote   *livemock.Session
	store    *historymock.Store
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	return newFixtureWithStore(t, cfg, &historymock.Store{})
}

func newFixtureWithStore(t *testing.T, cfg *config.Config, store *historymock.Store) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		remote: livemock.NewSession(),
		store:  store,
	}
	f.provider = &livemock.Provider{Session: f.remote}
	a, err := app.New(context.Background(), cfg, f.provider,
		app.WithDevice(&capturemock.Device{Stream: &capturemock.Stream{Rate: 16000}}),
		app.WithOutput((&playbackmock.Output{}).Opener()),
		app.WithHistoryStore(f.store),
		app.WithMetrics(met),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

func waitStatus(t *testing.T, s *session.Session, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for s.Status() != want {
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want %s", s.Status(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// converse plays one short exchange on the remote session.
func converse(remote *livemock.Session) {
	remote.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "What can I get you?"})
	remote.Emit(live.Event{Kind: live.EventInputTranscript, Text: "I'm resilient, a coffee please"})
	remote.Emit(live.Event{Kind: live.EventTurnComplete})
}

// ── SessionManager ───────────────────────────────────────────────────────────

func TestSessionManager_SavesCompletedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()

	completed := make(chan session.Result, 1)
	sess, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{
		OnComplete: func(res session.Result) { completed <- res },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, sess, session.StatusConnected)
	converse(f.remote)

	deadline := time.Now().Add(waitTimeout)
	for len(sess.History()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("history = %v", sess.History())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sm.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	res := <-completed
	if len(res.Summary.Used) != 1 || res.Summary.Used[0].Word != "resilient" {
		t.Errorf("summary used = %+v", res.Summary.Used)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	recs := f.store.Records()
	if len(recs) != 1 {
		t.Fatalf("stored %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.ID != sess.ID() || r.Learner.Name != "Ana" || len(r.Messages) != 2 {
		t.Errorf("record = %+v", r)
	}
	if len(r.UsedWords) != 1 || r.UsedWords[0] != "resilient" {
		t.Errorf("used words = %v", r.UsedWords)
	}
	if f.store.CloseCalls() != 1 {
		t.Errorf("store closed %d times, want 1", f.store.CloseCalls())
	}
}

func TestSessionManager_FailedSessionIsNotSaved(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.provider.ConnectErr = &live.HandshakeError{Code: 1008, Reason: "invalid api key"}
	sm := f.app.Sessions()

	completed := make(chan session.Result, 1)
	sess, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{
		OnComplete: func(res session.Result) { completed <- res },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, sess, session.StatusError)

	if err := sm.End(); !errors.Is(err, session.ErrNotRunning) {
		t.Errorf("End after failure = %v, want ErrNotRunning", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case res := <-completed:
		t.Errorf("OnComplete fired for failed session %s", res.ID)
	default:
	}
	if n := f.store.SaveCalls(); n != 0 {
		t.Errorf("SaveSession called %d times, want 0", n)
	}
}

func TestSessionManager_CompletionAfterShutdownIsNotSaved(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	completed := make(chan session.Result, 1)
	sess, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{
		OnComplete: func(res session.Result) { completed <- res },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, sess, session.StatusConnected)
	if err := sm.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	<-completed

	if n := f.store.SaveCalls(); n != 0 {
		t.Errorf("SaveSession called %d times after shutdown, want 0", n)
	}
}

func TestSessionManager_ShutdownRacingEnd(t *testing.T) {
	t.Parallel()

	for range 20 {
		f := newFixture(t, testConfig())
		sm := f.app.Sessions()
		sess, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		waitStatus(t, sess, session.StatusConnected)

		ended := make(chan error, 1)
		go func() { ended <- sm.End() }()

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		err = sm.Shutdown(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		saved := f.store.SaveCalls()

		if err := <-ended; err != nil && !errors.Is(err, session.ErrNotRunning) {
			t.Fatalf("End: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
		if n := f.store.SaveCalls(); n != saved {
			t.Fatalf("SaveSession called after Shutdown returned: %d, then %d", saved, n)
		}
	}
}

func TestSessionManager_CancelDoesNotSave(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	sess, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, sess, session.StatusConnected)

	if err := sm.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := f.store.SaveCalls(); n != 0 {
		t.Errorf("SaveSession called %d times after Cancel", n)
	}
}

func TestSessionManager_OneActiveSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	first, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, first, session.StatusConnected)

	if _, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{}); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}

	// A remote close frees the slot for the next session.
	f.remote.Finish(nil)
	waitStatus(t, first, session.StatusEnded)

	f.provider.Session = nil
	second, err := sm.Start(context.Background(), sm.DefaultRequest(), session.Callbacks{})
	if err != nil {
		t.Fatalf("Start after remote close: %v", err)
	}
	if second.ID() == first.ID() || sm.Current() != second {
		t.Error("Current should be the new session")
	}
}

func TestSessionManager_InvalidRequestKeepsPrevious(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	_, err := sm.Start(context.Background(), session.Request{}, session.Callbacks{})
	if err == nil {
		t.Fatal("expected validation error for empty lesson")
	}
	if sm.Current() != nil {
		t.Error("failed Start should not leave a current session")
	}
}

func TestSessionManager_NoSession(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Config: testConfig()})
	if err := sm.End(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("End = %v, want ErrNoSession", err)
	}
	if err := sm.Cancel(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Cancel = %v, want ErrNoSession", err)
	}
	if _, err := sm.ToggleMute(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("ToggleMute = %v, want ErrNoSession", err)
	}
}

func TestSessionManager_ApplyConfig(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(app.SessionManagerConfig{Config: testConfig()})
	next := testConfig()
	next.Lesson.Words = []string{"itinerary"}
	sm.ApplyConfig(next)

	if got := sm.DefaultRequest().Lesson.Words; len(got) != 1 || got[0] != "itinerary" {
		t.Errorf("DefaultRequest words = %v, want [itinerary]", got)
	}
}

func TestSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Audio.InputDevice = "USB"
	cfg.Audio.NoiseSuppression = false
	cfg.Provider.Voice = "Puck"
	cfg.Session.GreetFirst = false
	cfg.Session.ConnectTimeout = time.Minute

	sc := app.SessionConfig(cfg)
	if sc.Capture.SampleRate != 16000 || sc.Capture.BlockSize != 160 {
		t.Errorf("capture = %+v", sc.Capture)
	}
	c := sc.Capture.Constraints
	if !c.EchoCancellation || c.NoiseSuppression || !c.AutoGainControl || c.DeviceName != "USB" {
		t.Errorf("constraints = %+v", c)
	}
	if sc.PlaybackSampleRate != 24000 || sc.Voice != "Puck" {
		t.Errorf("playback/voice = %d %q", sc.PlaybackSampleRate, sc.Voice)
	}
	if !sc.SkipGreeting || sc.ConnectTimeout != time.Minute || sc.SlowConnectAfter != 10*time.Second {
		t.Errorf("session = %+v", sc)
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	} {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}

	failing := newFixtureWithStore(t, testConfig(), &historymock.Store{RecentErr: errors.New("db down")})
	failSrv := httptest.NewServer(failing.app.Handler())
	defer failSrv.Close()

	resp, err := http.Get(failSrv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "db down") {
		t.Errorf("/readyz with failing store = %d %s", resp.StatusCode, body)
	}
}

// hostFunc adapts a function to [app.Host].
type hostFunc func(ctx context.Context, sm *app.SessionManager) error

func (f hostFunc) Run(ctx context.Context, sm *app.SessionManager) error { return f(ctx, sm) }

func TestApp_RunServesMetricsUntilHostReturns(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	f := newFixture(t, cfg)

	hostErr := errors.New("host done")
	err := f.app.Run(context.Background(), hostFunc(func(ctx context.Context, sm *app.SessionManager) error {
		if sm != f.app.Sessions() {
			t.Error("host got a different session manager")
		}
		return hostErr
	}))
	if !errors.Is(err, hostErr) {
		t.Errorf("Run = %v, want host error", err)
	}
}

func TestApp_RunReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.app.Run(ctx, hostFunc(func(ctx context.Context, _ *app.SessionManager) error {
			<-ctx.Done()
			return nil
		}))
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_SQLiteHistoryFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.History.Driver = config.HistorySQLite
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.sqlite")

	a, err := app.New(context.Background(), cfg, &livemock.Provider{},
		app.WithDevice(&capturemock.Device{}),
		app.WithOutput((&playbackmock.Output{}).Opener()),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Shutdown(context.Background())

	recs, err := a.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("fresh database has %d records", len(recs))
	}
}

func TestApp_RecentWithoutHistory(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), &livemock.Provider{},
		app.WithDevice(&capturemock.Device{}),
		app.WithOutput((&playbackmock.Output{}).Opener()),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, err := a.Recent(context.Background(), 5); err == nil {
		t.Error("expected error when history is disabled")
	}
}

// ── Headless ─────────────────────────────────────────────────────────────────

func TestHeadless_EndsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	var out bytes.Buffer
	h := &app.Headless{Request: f.app.Sessions().DefaultRequest(), Out: &out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, f.app.Sessions()) }()

	deadline := time.Now().Add(waitTimeout)
	for {
		if s := f.app.Sessions().Current(); s != nil && s.Status() == session.StatusConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	converse(f.remote)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("headless host did not return")
	}

	got := out.String()
	for _, want := range []string{"What can I get you?", "used      resilient", "not yet   meticulous"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestHeadless_ReportsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	f.provider.ConnectErr = &live.HandshakeError{Code: 1008, Reason: "invalid api key"}

	var out bytes.Buffer
	h := &app.Headless{Request: f.app.Sessions().DefaultRequest(), Out: &out}
	err := h.Run(context.Background(), f.app.Sessions())
	if !errors.Is(err, live.ErrHandshake) {
		t.Fatalf("Run = %v, want handshake error", err)
	}
	if !strings.Contains(err.Error(), "Could not connect") {
		t.Errorf("error should carry the user message: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := f.app.Sessions().Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := f.store.SaveCalls(); n != 0 {
		t.Errorf("SaveSession called %d times for a session that never connected", n)
	}
	if out.Len() != 0 {
		t.Errorf("summary printed for a failed session:\n%s", out.String())
	}
}

func TestWriteResult(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	res := session.Result{
		ID:        "s-1",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
		History: []transcript.ChatMessage{
			{Role: transcript.RoleModel, Text: "Hi!"},
			{Role: transcript.RoleUser, Text: "I am metikulus"},
		},
		Summary: transcript.Summary{
			UserMessages:  1,
			ModelMessages: 1,
			Used:          []transcript.WordUse{{Word: "meticulous", Heard: "metikulus", Confidence: 0.9}},
			Unused:        []string{"resilient"},
		},
	}
	var buf bytes.Buffer
	if err := app.WriteResult(&buf, res); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"Session s-1 (1m30s)", "model  Hi!", "user   I am metikulus", `used      meticulous (heard "metikulus", 90%)`, "not yet   resilient"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
