package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/pkg/provider/live"
)

// ProviderReady fails until get returns a constructed live provider.
func ProviderReady(get func() live.Provider) Checker {
	return Checker{
		Name: "provider",
		Check: func(context.Context) error {
			if get() == nil {
				return errors.New("live provider not constructed")
			}
			return nil
		},
	}
}

// SessionHealthy fails while the current session is in [session.StatusError].
// current returns nil when no session has been started.
func SessionHealthy(current func() *session.Session) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			s := current()
			if s == nil || s.Status() != session.StatusError {
				return nil
			}
			cat := session.Category(s.Err())
			return fmt.Errorf("session %s failed (%s)", s.ID(), cat)
		},
	}
}

// StoreReachable runs ping, typically a one-row history query, under the
// readiness deadline.
func StoreReachable(name string, ping func(ctx context.Context) error) Checker {
	return Checker{
		Name:  name,
		Check: ping,
	}
}
