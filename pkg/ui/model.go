// Package ui is the terminal chat front end: a transcript viewport, an input
// line and a status bar, fed by the assembler through a Forwarder.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/render"
	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	inputStyle  = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// title, status line and the bordered input
const chromeHeight = 5

type Model struct {
	ctx     context.Context
	backend *Backend
	fwd     *Forwarder

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	title    string
	renderer func(md string, width int) (string, error)
	copy     func(string) error

	snap    transcript.Snapshot
	loading bool
	status  string
	failed  bool
	lastRec *redisstream.Envelope
	width   int
}

type Option func(*Model)

func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

// WithRenderer replaces the markdown renderer, e.g. with a plain one.
func WithRenderer(r func(md string, width int) (string, error)) Option {
	return func(m *Model) {
		m.renderer = r
	}
}

func WithClipboard(copyFn func(string) error) Option {
	return func(m *Model) {
		m.copy = copyFn
	}
}

// PlainRenderer leaves markdown as is.
func PlainRenderer(md string, _ int) (string, error) {
	return md, nil
}

func NewModel(ctx context.Context, backend *Backend, fwd *Forwarder, options ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about terminals, routes, emissions…"
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		ctx:      ctx,
		backend:  backend,
		fwd:      fwd,
		viewport: viewport.New(render.DefaultWidth, 20),
		input:    ti,
		spinner:  sp,
		title:    "fr8chat",
		renderer: render.Styled,
		copy:     clipboard.WriteAll,
		snap:     backend.Snapshot(),
		width:    render.DefaultWidth,
	}
	for _, opt := range options {
		opt(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.fwd.Wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-8, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.snap = msg.Snapshot
		m.loading = msg.Loading
		m.refresh()
		return m, m.fwd.Wait()

	case FinishedMsg:
		if msg.Err != nil {
			m.setError(msg.Err)
		}
		return m, nil

	case RecordMsg:
		env := msg.Envelope
		m.lastRec = &env
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.backend.Interrupt()
		return m, tea.Quit

	case "esc":
		if !m.backend.IsFinished() {
			m.backend.Interrupt()
			m.setStatus("stream cancelled")
		}
		return m, nil

	case "ctrl+y":
		sql := m.snap.LastSQL()
		if sql == "" {
			m.setStatus("no query to copy yet")
			return m, nil
		}
		if err := m.copy(sql); err != nil {
			m.setError(errors.Wrap(err, "copy query"))
			return m, nil
		}
		m.setStatus("copied query to clipboard")
		return m, nil

	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		cmd, err := m.backend.Start(m.ctx, text)
		if err != nil {
			m.setStatus("still streaming, press esc to cancel")
			return m, nil
		}
		m.input.Reset()
		m.setStatus("")
		m.loading = true
		return m, tea.Batch(cmd, m.spinner.Tick)

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.failed = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.failed = true
}

// refresh re-renders the transcript and keeps the view pinned to the bottom
// when it was there before.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcriptView())
	if atBottom || m.loading {
		m.viewport.GotoBottom()
	}
}

func (m Model) transcriptView() string {
	if len(m.snap.Turns) == 0 {
		return statusStyle.Render("No messages yet. Type a question and press enter.")
	}
	md := render.Markdown(m.snap)
	out, err := m.renderer(md, max(m.width-2, 20))
	if err != nil {
		return md
	}
	return out
}

func (m Model) statusLine() string {
	var parts []string
	if m.loading {
		parts = append(parts, m.spinner.View()+" streaming… (esc to cancel)")
	}
	if m.status != "" {
		if m.failed {
			parts = append(parts, errorStyle.Render(m.status))
		} else {
			parts = append(parts, statusStyle.Render(m.status))
		}
	}
	if m.lastRec != nil {
		parts = append(parts, statusStyle.Render(fmt.Sprintf("last event: %s #%d", m.lastRec.Event, m.lastRec.Seq)))
	}
	if len(parts) == 0 {
		parts = append(parts, statusStyle.Render("enter: send · esc: cancel · ctrl+y: copy query · ctrl+c: quit"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) View() string {
	return titleStyle.Render(m.title) + "\n" +
		m.viewport.View() + "\n" +
		m.statusLine() + "\n" +
		inputStyle.Render(m.input.View())
}
