package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// ErrAllFailed is matched by the error [Failover.Connect] returns when no
// provider could be connected.
var ErrAllFailed = errors.New("resilience: all providers failed")

type failoverEntry struct {
	provider live.Provider
	breaker  *Breaker
}

// Failover implements [live.Provider] over an ordered list of providers.
// Connect tries each provider whose breaker is not open until one completes
// the handshake. Only handshake failures count against a provider and move
// on to the next one; any other error, including a cancelled context, is
// returned as is.
type Failover struct {
	entries []failoverEntry
}

var _ live.Provider = (*Failover)(nil)

// NewFailover creates a Failover with primary tried first. cfg.Name is
// replaced by each provider's name.
func NewFailover(primary live.Provider, cfg BreakerConfig) *Failover {
	f := &Failover{}
	f.add(primary, cfg)
	return f
}

// WithFallback appends p to the providers tried after the primary and
// returns f.
func (f *Failover) WithFallback(p live.Provider, cfg BreakerConfig) *Failover {
	f.add(p, cfg)
	return f
}

func (f *Failover) add(p live.Provider, cfg BreakerConfig) {
	cfg.Name = p.Name()
	f.entries = append(f.entries, failoverEntry{provider: p, breaker: NewBreaker(cfg)})
}

// Name returns the primary provider's name.
func (f *Failover) Name() string { return f.entries[0].provider.Name() }

// Providers returns the provider names in the order they are tried.
func (f *Failover) Providers() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.provider.Name()
	}
	return names
}

// States returns each provider's breaker state, keyed by name.
func (f *Failover) States() map[string]State {
	states := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		states[e.provider.Name()] = e.breaker.State()
	}
	return states
}

// Connect implements [live.Provider].
func (f *Failover) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	var (
		lastErr error
		skipped []string
	)
	// A handshake aborted by the caller says nothing about the provider.
	counts := func(err error) bool { return isHandshake(err) && ctx.Err() == nil }

	for _, e := range f.entries {
		var sess live.Session
		err := e.breaker.Do(func() error {
			var err error
			sess, err = e.provider.Connect(ctx, cfg)
			return err
		}, counts)

		switch {
		case err == nil:
			if lastErr != nil || len(skipped) > 0 {
				slog.Info("connected to fallback provider", "provider", e.provider.Name())
			}
			return sess, nil
		case errors.Is(err, ErrOpen):
			skipped = append(skipped, e.provider.Name())
			continue
		case !counts(err):
			return nil, err
		}
		lastErr = err
		slog.Warn("provider handshake failed, trying next", "provider", e.provider.Name(), "err", err)
	}

	if lastErr == nil {
		return nil, &live.HandshakeError{
			Err: fmt.Errorf("%w: breakers open for %s", ErrAllFailed, strings.Join(skipped, ", ")),
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func isHandshake(err error) bool { return errors.Is(err, live.ErrHandshake) }
