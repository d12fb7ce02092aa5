package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/lexicoach/internal/session"
)

// Headless runs a single session without a terminal UI. Progress is logged
// and the session is ended, not cancelled, when ctx is cancelled, so the
// transcript is still completed and saved.
type Headless struct {
	Request session.Request

	// Out receives the transcript and summary. Default: os.Stdout.
	Out io.Writer
}

var _ Host = (*Headless)(nil)

// Run implements [Host].
func (h *Headless) Run(ctx context.Context, sm *SessionManager) error {
	out := h.Out
	if out == nil {
		out = os.Stdout
	}

	results := make(chan session.Result, 1)
	var (
		lastStatus session.Status
		logged     int
		slowShown  bool
	)
	cb := session.Callbacks{
		OnUpdate: func(u session.Update) {
			if u.Status != lastStatus {
				lastStatus = u.Status
				attrs := []any{"session_id", u.ID, "status", u.Status.String()}
				if u.Message != "" {
					attrs = append(attrs, "message", u.Message)
				}
				slog.Info("session status", attrs...)
			}
			if u.SlowConnect && !slowShown {
				slowShown = true
				slog.Info("connecting is taking longer than expected", "session_id", u.ID)
			}
			for ; logged < len(u.History); logged++ {
				m := u.History[logged]
				slog.Info("message", "role", string(m.Role), "text", m.Text)
			}
		},
		OnComplete: func(res session.Result) {
			results <- res
		},
	}

	// Cancellation means "stop talking" here, which End handles; the
	// session context must outlive ctx for that.
	sess, err := sm.Start(context.WithoutCancel(ctx), h.Request, cb)
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	select {
	case <-ctx.Done():
		slog.Info("ending session", "session_id", sess.ID())
	case <-sess.Done():
	}

	if err := sess.End(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		return fmt.Errorf("app: end session: %w", err)
	}

	select {
	case res := <-results:
		if err := WriteResult(out, res); err != nil {
			return err
		}
	default:
	}

	if err := sess.Err(); err != nil {
		return fmt.Errorf("app: %s: %w", session.UserMessage(session.Category(err)), err)
	}
	return nil
}

// WriteResult prints the transcript and the target word summary.
func WriteResult(w io.Writer, res session.Result) error {
	ew := &errWriter{w: w}
	ew.printf("Session %s (%s)\n\n", res.ID, res.EndedAt.Sub(res.StartedAt).Round(time.Second))
	for _, m := range res.History {
		ew.printf("%-5s  %s\n", m.Role, m.Text)
	}
	ew.printf("\nYou spoke %d times.\n", res.Summary.UserMessages)
	for _, u := range res.Summary.Used {
		if u.Exact {
			ew.printf("  used      %s\n", u.Word)
		} else {
			ew.printf("  used      %s (heard %q, %.0f%%)\n", u.Word, u.Heard, u.Confidence*100)
		}
	}
	for _, word := range res.Summary.Unused {
		ew.printf("  not yet   %s\n", word)
	}
	return ew.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
