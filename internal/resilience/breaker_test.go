package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock is a settable time source for breakers under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: maxFailures, Cooldown: cooldown})
	b.now = clock.Now
	return b, clock
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	if b.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", b.maxFailures)
	}
	if b.cooldown != time.Minute {
		t.Errorf("cooldown = %v, want 1m", b.cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2, time.Minute)

	if err := b.Do(fail, nil); !errors.Is(err, errBoom) {
		t.Fatalf("Do = %v, want errBoom", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v after one failure, want closed", b.State())
	}
	_ = b.Do(fail, nil)
	if b.State() != StateOpen {
		t.Fatalf("State() = %v after two failures, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2, time.Minute)
	_ = b.Do(fail, nil)
	_ = b.Do(succeed, nil)
	_ = b.Do(fail, nil)
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed; failures were not consecutive", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "success closes", probe: succeed, want: StateClosed},
		{name: "failure re-opens", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, clock := newTestBreaker(1, time.Minute)
			_ = b.Do(fail, nil)
			clock.Advance(time.Minute)

			if b.State() != StateHalfOpen {
				t.Fatalf("State() = %v after cooldown, want half-open", b.State())
			}
			_ = b.Do(tt.probe, nil)
			if b.State() != tt.want {
				t.Errorf("State() = %v after probe, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1, time.Minute)
	_ = b.Do(fail, nil)
	clock.Advance(2 * time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		}, nil)
	}()
	<-entered

	if err := b.Do(succeed, nil); !errors.Is(err, ErrOpen) {
		t.Errorf("second probe = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("probe = %v, want nil", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_UncountedErrorsPassThrough(t *testing.T) {
	t.Parallel()

	errIgnored := errors.New("ignored")
	counts := func(err error) bool { return !errors.Is(err, errIgnored) }

	b, _ := newTestBreaker(1, time.Minute)
	if err := b.Do(func() error { return errIgnored }, counts); !errors.Is(err, errIgnored) {
		t.Fatalf("Do = %v, want errIgnored", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1, time.Hour)
	_ = b.Do(fail, nil)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State() = %v after Reset, want closed", b.State())
	}
	if err := b.Do(succeed, nil); err != nil {
		t.Errorf("Do after Reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
