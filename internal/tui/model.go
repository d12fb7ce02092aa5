// Package tui is the interactive terminal host for a conversation session.
//
// Session callbacks arrive on session goroutines and are forwarded into the
// bubbletea program with Program.Send. Every call back into the session runs
// inside a tea.Cmd, never in Update, because the session may be blocked
// delivering a callback to the program at the same moment.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/lexicoach/internal/session"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

// maxVisibleMessages is how many finalized messages the transcript panel
// shows.
const maxVisibleMessages = 12

// Controller is the session control surface the model drives.
// *app.SessionManager satisfies it.
type Controller interface {
	Start(ctx context.Context, req session.Request, cb session.Callbacks) (*session.Session, error)
	ToggleMute() (bool, error)
	End() error
	Cancel() error
}

// sender forwards messages into the running program. It is filled in after
// the program is constructed and before it runs.
type sender struct {
	send func(tea.Msg)
}

func (s *sender) Send(msg tea.Msg) {
	if s.send != nil {
		s.send(msg)
	}
}

// Model is the root bubbletea model.
type Model struct {
	ctl    Controller
	ctx    context.Context
	req    session.Request
	sender *sender

	// Session state, from the latest update.
	id          string
	status      session.Status
	slow        bool
	muted       bool
	message     string
	previewRole transcript.Role
	preview     string
	history     []transcript.ChatMessage

	// Local state.
	ending     bool
	cancelling bool
	done       bool
	result     *session.Result
	errText    string
	width      int
}

// New creates a model that starts a session for req when the program runs.
func New(ctx context.Context, ctl Controller, req session.Request) Model {
	return Model{
		ctl:    ctl,
		ctx:    ctx,
		req:    req,
		sender: &sender{},
		status: session.StatusIdle,
	}
}

// Init starts the session.
func (m Model) Init() tea.Cmd {
	return m.startCmd()
}

func (m Model) startCmd() tea.Cmd {
	ctl, ctx, req, out := m.ctl, m.ctx, m.req, m.sender
	return func() tea.Msg {
		cb := session.Callbacks{
			OnUpdate:   func(u session.Update) { out.Send(UpdateMsg{Update: u}) },
			OnComplete: func(res session.Result) { out.Send(CompletedMsg{Result: res}) },
			OnCancel:   func() { out.Send(CancelledMsg{}) },
		}
		if _, err := ctl.Start(ctx, req, cb); err != nil {
			return StartErrorMsg{Err: err}
		}
		return nil
	}
}

func muteCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if _, err := ctl.ToggleMute(); err != nil {
			return ActionErrorMsg{Action: "mute", Err: err}
		}
		return nil
	}
}

func endCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.End(); err != nil {
			return ActionErrorMsg{Action: "end", Err: err}
		}
		return nil
	}
}

func cancelCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.Cancel(); err != nil {
			return ActionErrorMsg{Action: "cancel", Err: err}
		}
		return nil
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case UpdateMsg:
		u := msg.Update
		m.id = u.ID
		m.status = u.Status
		m.slow = u.SlowConnect
		m.muted = u.Muted
		m.message = u.Message
		m.previewRole = u.PreviewRole
		m.preview = u.Preview
		m.history = u.History
		return m, nil

	case CompletedMsg:
		res := msg.Result
		m.result = &res
		m.history = res.History
		m.preview = ""
		m.done = true
		return m, tea.Quit

	case CancelledMsg:
		m.done = true
		return m, tea.Quit

	case StartErrorMsg:
		m.errText = msg.Err.Error()
		m.done = true
		return m, tea.Quit

	case ActionErrorMsg:
		// Ending or cancelling a session that is already over just quits.
		if errors.Is(msg.Err, session.ErrNotRunning) && msg.Action != "mute" {
			m.done = true
			return m, tea.Quit
		}
		m.ending, m.cancelling = false, false
		m.errText = fmt.Sprintf("%s: %v", msg.Action, msg.Err)
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.done {
		return m, tea.Quit
	}
	switch msg.String() {
	case KeyMute:
		if m.status != session.StatusConnected {
			return m, nil
		}
		return m, muteCmd(m.ctl)

	case KeyEnd:
		if m.ending || m.cancelling || m.status == session.StatusIdle {
			return m, nil
		}
		m.ending = true
		return m, endCmd(m.ctl)

	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.cancelling || m.ending {
			return m, nil
		}
		if m.status == session.StatusIdle {
			m.done = true
			return m, tea.Quit
		}
		m.cancelling = true
		return m, cancelCmd(m.ctl)
	}
	return m, nil
}

// Result returns the completed session result, if the session was ended.
func (m Model) Result() (session.Result, bool) {
	if m.result == nil {
		return session.Result{}, false
	}
	return *m.result, true
}

// View renders the model.
func (m Model) View() string {
	if m.result != nil {
		return m.renderSummary(*m.result)
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderWords())
	b.WriteString("\n\n")
	b.WriteString(m.renderTranscript())
	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHeader() string {
	parts := []string{
		titleStyle.Render("lexicoach"),
		statusStyle(m.status.String()).Render(m.status.String()),
	}
	if m.muted {
		parts = append(parts, mutedStyle.Render("● muted"))
	}
	line := strings.Join(parts, "  ")

	if scene := m.req.Lesson.Scene; scene != "" {
		line += "\n" + sceneStyle.Render(scene)
	}
	if m.slow && m.status == session.StatusConnecting {
		line += "\n" + noticeStyle.Render("Connecting is taking longer than expected…")
	}
	if m.status == session.StatusError && m.message != "" {
		line += "\n" + errorStyle.Render(m.message)
	}
	return line
}

// renderWords lists the target words, marking the ones already used.
func (m Model) renderWords() string {
	summary := transcript.Summarize(m.history, m.req.Lesson.Words, nil)
	used := make(map[string]bool, len(summary.Used))
	for _, u := range summary.Used {
		used[u.Word] = true
	}
	words := make([]string, 0, len(m.req.Lesson.Words))
	for _, w := range m.req.Lesson.Words {
		if used[w] {
			words = append(words, usedWordStyle.Render("✓ "+w))
		} else {
			words = append(words, unusedWordStyle.Render("· "+w))
		}
	}
	return "Words: " + strings.Join(words, "  ")
}

func (m Model) renderTranscript() string {
	msgs := m.history
	if len(msgs) > maxVisibleMessages {
		msgs = msgs[len(msgs)-maxVisibleMessages:]
	}
	lines := make([]string, 0, len(msgs)+1)
	for _, msg := range msgs {
		lines = append(lines, roleLabel(msg.Role)+" "+msg.Text)
	}
	if m.preview != "" {
		lines = append(lines, roleLabel(m.previewRole)+" "+previewStyle.Render(m.preview))
	}
	if len(lines) == 0 {
		lines = append(lines, helpStyle.Render("Waiting for the conversation to start…"))
	}

	style := panelStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	switch {
	case m.ending:
		return helpStyle.Render("Ending session…")
	case m.cancelling:
		return helpStyle.Render("Cancelling…")
	}
	return helpStyle.Render(fmt.Sprintf("%s mute · %s end and review · %s quit", KeyMute, KeyEnd, KeyQuit))
}

func (m Model) renderSummary(res session.Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Session complete"))
	b.WriteString("\n\n")
	for _, msg := range res.History {
		b.WriteString(roleLabel(msg.Role) + " " + msg.Text + "\n")
	}
	b.WriteString("\n")
	for _, u := range res.Summary.Used {
		line := "✓ " + u.Word
		if !u.Exact {
			line += fmt.Sprintf(" (heard %q)", u.Heard)
		}
		b.WriteString(usedWordStyle.Render(line) + "\n")
	}
	for _, w := range res.Summary.Unused {
		b.WriteString(unusedWordStyle.Render("· "+w+" (not used yet)") + "\n")
	}
	return b.String()
}

func roleLabel(r transcript.Role) string {
	switch r {
	case transcript.RoleUser:
		return userLabelStyle.Render(lipgloss.PlaceHorizontal(6, lipgloss.Left, "you"))
	case transcript.RoleModel:
		return modelLabelStyle.Render(lipgloss.PlaceHorizontal(6, lipgloss.Left, "coach"))
	}
	return lipgloss.PlaceHorizontal(6, lipgloss.Left, string(r))
}
