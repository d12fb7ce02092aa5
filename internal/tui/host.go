package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/lexicoach/internal/app"
	"github.com/MrWong99/lexicoach/internal/session"
)

// Host runs one session in the terminal UI.
type Host struct {
	Request session.Request

	// Output and Input override the terminal, for tests. Nil uses the
	// process's stdout and stdin.
	Output io.Writer
	Input  io.Reader
}

var _ app.Host = (*Host)(nil)

// Run implements [app.Host]. It returns when the user ends or cancels the
// session, or when ctx is cancelled.
func (h *Host) Run(ctx context.Context, sm *app.SessionManager) error {
	return h.run(ctx, sm)
}

func (h *Host) run(ctx context.Context, ctl Controller) error {
	// The program stops on ctx; the session is cancelled explicitly below.
	m := New(context.WithoutCancel(ctx), ctl, h.Request)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if h.Output != nil {
		opts = append(opts, tea.WithOutput(h.Output))
	}
	if h.Input != nil {
		opts = append(opts, tea.WithInput(h.Input))
	}
	p := tea.NewProgram(m, opts...)
	m.sender.send = p.Send

	final, err := p.Run()

	// A killed program can leave the session running.
	if cerr := ctl.Cancel(); cerr == nil {
		slog.Info("session cancelled on exit")
	}

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	if fm, ok := final.(Model); ok && fm.errText != "" && fm.result == nil && fm.status == session.StatusIdle {
		return fmt.Errorf("tui: %s", fm.errText)
	}
	return nil
}
