package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	cursor "github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kong/kaictl/internal/console"
	"github.com/kong/kaictl/internal/iostreams"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/theme"
	"github.com/muesli/termenv"
)

const (
	promptSymbol       = "› "
	defaultPrompt      = "Message the agent, /help for commands"
	answerPrompt       = "/answer <header>=<value>, or /skip"
	promptMinHeight    = 1
	promptMaxHeight    = 8
	defaultPromptWidth = 76
	maxNotices         = 3
)

// Controller is the part of the session controller the chat view reads.
type Controller interface {
	Subscribe() (<-chan session.Session, func())
}

// Reply is what a dispatched line produced besides an error.
type Reply struct {
	Quit bool
	Info string
}

// Options configures Run.
type Options struct {
	Controller Controller
	// Dispatch runs one submitted line, a message or a slash command. It is
	// called off the UI goroutine.
	Dispatch func(ctx context.Context, line string) (Reply, error)
	// Confirm returns the question to ask before line is dispatched, or ""
	// when the line runs right away.
	Confirm func(line string) string
	// Initial lines are dispatched in order once the session takes input.
	Initial []string

	Palette  theme.Palette
	UseColor bool
	Markdown bool
	Width    int
	Logger   *slog.Logger
}

// Result is how the chat view ended.
type Result struct {
	Session session.Session
	// Quit is set when the user left while the session was still live.
	Quit bool
}

type snapshotMsg struct {
	s  session.Session
	ok bool
}

type dispatchedMsg struct {
	line  string
	reply Reply
	err   error
}

type notice struct {
	text string
	warn bool
}

type model struct {
	ctx     context.Context
	opts    Options
	updates <-chan session.Session

	input   textarea.Model
	spinner spinner.Model
	styles  styles
	width   int

	last     session.Session
	seen     bool
	pending  []string
	inFlight bool
	notices  []notice

	confirmLine     string
	confirmQuestion string

	quit bool
}

type styles struct {
	muted   lipgloss.Style
	warning lipgloss.Style
	accent  lipgloss.Style
	border  lipgloss.Style
}

func buildStyles(p theme.Palette, useColor bool) styles {
	if p.Name == "" {
		p, _ = theme.Get(theme.DefaultName)
	}
	r := lipgloss.NewRenderer(io.Discard)
	if useColor {
		r.SetColorProfile(lipgloss.ColorProfile())
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		muted:   p.ForegroundStyle(r, theme.ColorTextMuted),
		warning: p.ForegroundStyle(r, theme.ColorWarning),
		accent:  p.ForegroundStyle(r, theme.ColorAccent),
		border:  p.ForegroundStyle(r, theme.ColorBorder),
	}
}

// Run shows the conversation of a chat session and reads input until the
// session ends, the user leaves or ctx is done.
func Run(ctx context.Context, streams *iostreams.IOStreams, opts Options) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	updates, unsubscribe := opts.Controller.Subscribe()
	defer unsubscribe()

	m := newModel(ctx, opts, updates)
	program := tea.NewProgram(m,
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithoutSignalHandler(),
		tea.WithContext(ctx),
	)

	finalModel, err := program.Run()
	if fm, ok := finalModel.(*model); ok {
		m = fm
	}
	res := Result{Session: m.last, Quit: m.quit}

	if opts.Logger != nil {
		opts.Logger.LogAttrs(ctx, slog.LevelInfo, "chat view closed",
			slog.String("session_id", m.last.ID),
			slog.Bool("quit", m.quit),
			slog.Bool("had_error", err != nil))
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

func newModel(ctx context.Context, opts Options, updates <-chan session.Session) *model {
	st := buildStyles(opts.Palette, opts.UseColor)

	input := textarea.New()
	input.Placeholder = defaultPrompt
	input.Prompt = promptSymbol
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = promptMaxHeight
	input.SetHeight(promptMinHeight)
	input.Focus()
	input.Cursor.SetMode(cursor.CursorStatic)
	focusedStyle, blurredStyle := textarea.DefaultStyles()
	resetTextareaStyle := func(style *textarea.Style) {
		style.Base = lipgloss.NewStyle()
		style.CursorLine = lipgloss.NewStyle()
		style.EndOfBuffer = lipgloss.NewStyle()
		style.Text = lipgloss.NewStyle()
		style.Placeholder = st.muted
		style.Prompt = st.accent
	}
	resetTextareaStyle(&focusedStyle)
	resetTextareaStyle(&blurredStyle)
	input.FocusedStyle = focusedStyle
	input.BlurredStyle = blurredStyle

	width := defaultPromptWidth
	if opts.Width > 0 {
		width = max(opts.Width-4, 20)
	}
	input.SetWidth(width)

	sp := spinner.New()
	sp.Style = st.accent

	return &model{
		ctx:     ctx,
		opts:    opts,
		updates: updates,
		input:   input,
		spinner: sp,
		styles:  st,
		width:   opts.Width,
		pending: append([]string(nil), opts.Initial...),
	}
}

func waitForSnapshot(updates <-chan session.Session) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		return snapshotMsg{s: s, ok: ok}
	}
}

func (m *model) dispatch(line string) tea.Cmd {
	m.inFlight = true
	ctx, run := m.ctx, m.opts.Dispatch
	return func() tea.Msg {
		reply, err := run(ctx, line)
		return dispatchedMsg{line: line, reply: reply, err: err}
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	defer m.refreshPlaceholder()
	switch msg := msg.(type) {
	case snapshotMsg:
		if !msg.ok {
			return m, tea.Quit
		}
		m.last, m.seen = msg.s, true
		if ended(msg.s) {
			return m, tea.Quit
		}
		return m, tea.Batch(waitForSnapshot(m.updates), m.next())

	case dispatchedMsg:
		m.inFlight = false
		if msg.err != nil {
			m.notify(msg.err.Error(), true)
		}
		if msg.reply.Info != "" {
			m.notify(msg.reply.Info, false)
		}
		if msg.reply.Quit {
			m.quit = true
			return m, tea.Quit
		}
		return m, m.next()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.input.SetWidth(max(msg.Width-4, 20))
			m.adjustInputHeight()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quit = true
			return m, tea.Quit
		case tea.KeyEsc:
			if m.confirmLine != "" {
				m.clearConfirm()
				return m, nil
			}
			if m.last.Busy && !m.inFlight {
				return m, m.dispatch("/cancel")
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.adjustInputHeight()
		return m, cmd
	}
	return m, nil
}

// submit handles the line in the input box.
func (m *model) submit() tea.Cmd {
	raw := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	m.adjustInputHeight()

	if m.confirmLine != "" {
		line := m.confirmLine
		m.clearConfirm()
		switch strings.ToLower(raw) {
		case "y", "yes":
			return m.dispatch(line)
		}
		m.notify("not confirmed", false)
		return nil
	}
	if raw == "" {
		return nil
	}
	if m.inFlight {
		m.notify("still working on the previous command", true)
		return nil
	}
	if m.opts.Confirm != nil {
		if question := m.opts.Confirm(raw); question != "" {
			m.confirmLine, m.confirmQuestion = raw, question
			return nil
		}
	}
	return m.dispatch(raw)
}

// next dispatches the oldest initial line once the session takes input.
func (m *model) next() tea.Cmd {
	if len(m.pending) == 0 || m.inFlight || !m.seen || !ready(m.last) {
		return nil
	}
	line := m.pending[0]
	m.pending = m.pending[1:]
	return m.dispatch(line)
}

func (m *model) notify(text string, warn bool) {
	m.notices = append(m.notices, notice{text: text, warn: warn})
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *model) clearConfirm() {
	m.confirmLine, m.confirmQuestion = "", ""
}

func (m *model) refreshPlaceholder() {
	switch {
	case m.confirmLine != "":
		m.input.Placeholder = "y/N"
	case m.last.PendingQuestion != nil:
		m.input.Placeholder = answerPrompt
	default:
		m.input.Placeholder = defaultPrompt
	}
}

func (m *model) adjustInputHeight() {
	lines := strings.Count(m.input.Value(), "\n") + 1
	height := min(max(lines, promptMinHeight), promptMaxHeight)
	if m.input.Height() != height {
		m.input.SetHeight(height)
	}
}

func (m *model) View() string {
	var b strings.Builder

	if !m.seen {
		b.WriteString(m.styles.muted.Render("Establishing session..."))
		b.WriteString("\n\n")
	} else {
		b.WriteString(console.Render(m.last, console.Options{
			Palette:  m.opts.Palette,
			Color:    m.opts.UseColor,
			Width:    m.width,
			Markdown: m.opts.Markdown,
		}))
	}

	if m.last.Busy {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.styles.muted.Render("working, Esc cancels the turn"))
		b.WriteString("\n")
	}

	for _, n := range m.notices {
		style := m.styles.muted
		if n.warn {
			style = m.styles.warning
		}
		b.WriteString(style.Render(n.text))
		b.WriteString("\n")
	}

	if m.confirmQuestion != "" {
		b.WriteString(m.styles.warning.Render(fmt.Sprintf("%s [y/N]", m.confirmQuestion)))
		b.WriteString("\n")
	}

	b.WriteString(m.renderPrompt())
	b.WriteString("\n")
	return b.String()
}

func (m *model) renderPrompt() string {
	view := strings.TrimRight(m.input.View(), "\n")
	width := max(m.input.Width()+lipgloss.Width(promptSymbol), 1)
	border := m.styles.border.Render(strings.Repeat("─", width))
	return fmt.Sprintf("%s\n%s\n%s", border, view, border)
}

func ended(s session.Session) bool {
	return s.Status.IsTerminal() || s.AuthExpired
}

func ready(s session.Session) bool {
	return !s.Busy && s.Status != session.StatusQueued
}
