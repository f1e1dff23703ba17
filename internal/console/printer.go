package console

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kong/kaictl/internal/event"
	"github.com/kong/kaictl/internal/render"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/theme"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

const (
	userSpeaker  = "You"
	agentSpeaker = "Agent"

	toolMarker   = "⏺"
	resultMarker = "  ⎿ "

	minWidth = 40
)

// Options configures a Printer.
type Options struct {
	Palette theme.Palette
	Color   bool
	Width   int
	// Markdown renders assistant entries that arrive complete.
	Markdown bool
}

type styles struct {
	user    lipgloss.Style
	agent   lipgloss.Style
	tool    lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	danger  lipgloss.Style
	info    lipgloss.Style
}

func buildStyles(r *lipgloss.Renderer, p theme.Palette) styles {
	return styles{
		user:    p.ForegroundStyle(r, theme.ColorPrimary).Bold(true),
		agent:   p.ForegroundStyle(r, theme.ColorAccent).Bold(true),
		tool:    p.ForegroundStyle(r, theme.ColorInfo),
		muted:   p.ForegroundStyle(r, theme.ColorTextMuted),
		success: p.ForegroundStyle(r, theme.ColorSuccess),
		warning: p.ForegroundStyle(r, theme.ColorWarning),
		danger:  p.ForegroundStyle(r, theme.ColorDanger).Bold(true),
		info:    p.ForegroundStyle(r, theme.ColorInfo).Bold(true),
	}
}

// Printer writes the changes between consecutive session snapshots as
// append-only console output. It is not safe for concurrent use.
type Printer struct {
	out      io.Writer
	styles   styles
	width    int
	color    bool
	markdown bool

	started bool
	prev    session.Session

	printed  map[string]int // bytes of entry content already written
	tools    map[string]session.ToolCallState
	midLine  bool
	openText string // id of the entry whose text is mid-line
}

// NewPrinter returns a printer writing to out.
func NewPrinter(out io.Writer, opts Options) *Printer {
	r := lipgloss.NewRenderer(out)
	if !opts.Color {
		r.SetColorProfile(termenv.Ascii)
	}
	return newPrinter(out, r, opts)
}

func newPrinter(out io.Writer, r *lipgloss.Renderer, opts Options) *Printer {
	width := opts.Width
	if width < minWidth {
		width = minWidth
	}
	palette := opts.Palette
	if palette.Name == "" {
		palette, _ = theme.Get(theme.DefaultName)
	}

	return &Printer{
		out:      out,
		styles:   buildStyles(r, palette),
		width:    width,
		color:    opts.Color,
		markdown: opts.Markdown,
		printed:  make(map[string]int),
		tools:    make(map[string]session.ToolCallState),
	}
}

// Update prints everything that changed since the previous snapshot.
func (p *Printer) Update(s session.Session) {
	prev := p.prev
	first := !p.started
	p.started = true
	p.prev = s

	if first || s.Status != prev.Status {
		if !first || s.Status != session.StatusQueued {
			p.line(p.styles.muted.Render(fmt.Sprintf("status: %s", s.Status)))
		}
	}
	if s.StatusText != "" && s.StatusText != prev.StatusText {
		p.line(p.styles.muted.Render("… " + s.StatusText))
	}

	p.entries(prev, s)
	p.toolCalls(s)

	if !slices.Equal(s.Todos, prev.Todos) && len(s.Todos) > 0 {
		p.todos(s.Todos)
	}
	if s.PendingQuestion != nil && s.PendingQuestion != prev.PendingQuestion {
		p.question(s.PendingQuestion)
	}
	if s.Epic != nil && s.Epic != prev.Epic {
		p.line(p.styles.info.Render(EpicLine(s.Epic)))
	}

	switch {
	case s.Reconnecting && !prev.Reconnecting:
		p.line(p.styles.warning.Render("connection lost, reconnecting…"))
	case !s.Disconnected && prev.Disconnected && !first:
		p.line(p.styles.success.Render("reconnected"))
	}
	if s.AuthExpired && !prev.AuthExpired {
		p.line(p.styles.danger.Render("authentication expired, refresh the agent token and start again"))
	}
	// runs carry errors as entries
	if s.LastError != "" && s.LastError != prev.LastError && !s.IsRun() {
		p.line(p.styles.danger.Render("error: " + s.LastError))
	}
	if !s.Totals.IsZero() && s.Totals != prev.Totals && !s.Busy {
		p.line(p.styles.muted.Render(UsageLine(s.Totals)))
	}
}

// Finish terminates a pending partial line.
func (p *Printer) Finish() {
	p.endLine()
}

// Notice prints a host message, such as a rejected command.
func (p *Printer) Notice(msg string) {
	p.line(p.styles.warning.Render(msg))
}

// Info prints muted help text.
func (p *Printer) Info(msg string) {
	p.line(p.styles.muted.Render(msg))
}

// Summary prints a complete session, as loaded from a transcript, in one go.
func Summary(out io.Writer, s session.Session, opts Options) {
	p := NewPrinter(out, opts)
	header := fmt.Sprintf("session %s (%s", valueOr(s.ID, "-"), s.Kind)
	if s.Mode != "" {
		header += ", " + s.Mode
	}
	p.line(p.styles.info.Render(header + ")"))
	p.Update(s)
	p.Finish()
}

// Render returns the whole conversation of a snapshot. The chat view redraws
// it on every change, so the output is not tied to a terminal.
func Render(s session.Session, opts Options) string {
	var b strings.Builder
	r := lipgloss.NewRenderer(&b)
	if opts.Color {
		r.SetColorProfile(lipgloss.ColorProfile())
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	p := newPrinter(&b, r, opts)
	p.Update(s)
	p.Finish()
	return b.String()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (p *Printer) entries(prev, s session.Session) {
	for _, e := range s.Entries {
		done, seen := p.printed[e.ID]
		if !seen {
			p.beginEntry(e)
			continue
		}
		if len(e.Content) > done {
			p.writeText(e.ID, e.Content[done:])
			p.printed[e.ID] = len(e.Content)
		}
		if !e.IsStreaming && p.openText == e.ID {
			p.endLine()
		}
	}

	// entries that vanished were optimistic sends the backend refused
	for _, e := range prev.Entries {
		if _, ok := s.Entry(e.ID); !ok && e.Kind == session.EntryUser {
			p.line(p.styles.warning.Render("message not sent: " + p.truncate(e.Content)))
			delete(p.printed, e.ID)
		}
	}
}

func (p *Printer) beginEntry(e session.Entry) {
	p.printed[e.ID] = len(e.Content)

	switch e.Kind {
	case session.EntryUser:
		p.line(p.styles.user.Render(userSpeaker+" ›") + " " + e.Content)
	case session.EntryAssistant, session.EntryText:
		if !e.IsStreaming {
			p.line(p.styles.agent.Render(agentSpeaker+" ›") + " " + p.markdownBody(e.Content))
			return
		}
		p.endLine()
		fmt.Fprint(p.out, p.styles.agent.Render(agentSpeaker+" ›")+" ")
		p.midLine = true
		p.openText = e.ID
		if e.Content != "" {
			fmt.Fprint(p.out, e.Content)
		}
	case session.EntrySystem:
		p.line(p.styles.muted.Render("system: " + e.Content))
	case session.EntryStatus:
		p.line(p.styles.muted.Render("» " + e.Content))
	case session.EntryError:
		p.line(p.styles.danger.Render("error: " + e.Content))
	case session.EntryCompletionSignal:
		p.line(p.styles.success.Render("completion: " + e.Content))
	case session.EntryToolUse, session.EntryToolResult:
		// printed through the tool-call view
	}
}

func (p *Printer) writeText(id, delta string) {
	if p.openText != id {
		p.endLine()
		fmt.Fprint(p.out, p.styles.agent.Render(agentSpeaker+" ›")+" ")
		p.openText = id
	}
	fmt.Fprint(p.out, delta)
	p.midLine = true
}

func (p *Printer) toolCalls(s session.Session) {
	for _, v := range s.ToolCalls() {
		last, seen := p.tools[v.ID]
		if !seen {
			p.line(p.styles.tool.Render(toolMarker+" "+v.Name) + p.styles.muted.Render("("+p.toolInput(v)+")"))
		}
		if seen && last == v.State {
			continue
		}
		p.tools[v.ID] = v.State

		switch v.State {
		case session.ToolCallCompleted:
			p.line(p.styles.muted.Render(resultMarker + p.truncate(deref(v.Result))))
		case session.ToolCallFailed:
			p.line(p.styles.danger.Render(resultMarker + p.truncate(deref(v.Result))))
		case session.ToolCallAbandoned:
			p.line(p.styles.warning.Render(resultMarker + "abandoned"))
		case session.ToolCallRunning:
		}
	}
}

func (p *Printer) toolInput(v session.ToolCallView) string {
	if v.Name == event.ToolBash {
		var in event.ShellInput
		if json.Unmarshal(v.Input, &in) == nil && in.Command != "" {
			return p.truncate(in.Command)
		}
	}
	return p.truncate(string(v.Input))
}

func (p *Printer) todos(items []event.TodoItem) {
	p.line(p.styles.info.Render("todos"))
	for _, t := range items {
		mark := "[ ]"
		style := p.styles.muted
		text := t.Content
		switch t.Status {
		case event.TodoCompleted:
			mark, style = "[x]", p.styles.success
		case event.TodoInProgress:
			mark, style = "[~]", p.styles.warning
			if t.ActiveForm != "" {
				text = t.ActiveForm
			}
		}
		p.line("  " + style.Render(mark) + " " + p.truncate(text))
	}
}

func (p *Printer) question(q *session.PendingQuestion) {
	p.line(p.styles.info.Render("the agent is asking:"))
	for _, item := range q.Questions {
		p.line(fmt.Sprintf("  %s %s", p.styles.agent.Render("["+item.Header+"]"), item.Question))
		for i, opt := range item.Options {
			line := fmt.Sprintf("    %d. %s", i+1, opt.Label)
			if opt.Description != "" {
				line += p.styles.muted.Render(" - " + opt.Description)
			}
			p.line(line)
		}
	}
	p.line(p.styles.muted.Render("  reply with /answer <header>=<value>[,<value>] or /skip"))
}

func (p *Printer) markdownBody(content string) string {
	if !p.markdown {
		return content
	}
	return render.Markdown(content, render.Options{NoColor: !p.color, Width: p.width})
}

func (p *Printer) line(s string) {
	p.endLine()
	fmt.Fprintln(p.out, s)
}

func (p *Printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	p.openText = ""
}

// truncate collapses s to one line that fits the printer width.
func (p *Printer) truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, p.width-len(resultMarker), "…")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EpicLine summarizes epic progress on one line.
func EpicLine(e *session.EpicSequence) string {
	line := fmt.Sprintf("epic %d/%d done, %.0f%% complete, %.0f%% failed",
		len(e.CompletedTaskIDs), e.TotalTasks, e.PercentComplete(), e.PercentFailed())
	if task, ok := e.CurrentTask(); ok && !e.Finished() {
		line += ", current " + task
	}
	return line
}

// UsageLine summarizes token and cost totals on one line.
func UsageLine(u event.Usage) string {
	line := fmt.Sprintf("tokens: %d in, %d out", u.InputTokens, u.OutputTokens)
	if u.CostUSD > 0 {
		line += fmt.Sprintf(", $%.4f", u.CostUSD)
	}
	return line
}
