package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/kong/kaictl/internal/cmd"
	cmdcommon "github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/console"
	"github.com/kong/kaictl/internal/event"
	"github.com/kong/kaictl/internal/log"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/transcript"
	"github.com/kong/kaictl/internal/tui"
	"github.com/spf13/cobra"
)

const (
	RecordDirFlagName = "record-dir"
	YesFlagName       = "yes"
	YesFlagShort      = "y"
)

// AddFlags registers the connection and recording flags shared by the
// session commands.
func AddFlags(command *cobra.Command) {
	command.Flags().String(cmdcommon.BaseURLFlagName, "",
		fmt.Sprintf(`Base URL of the agent service.
- Config path: [ %s ]`, config.AgentBaseURLConfigPath))

	command.Flags().String(cmdcommon.TokenFlagName, "",
		fmt.Sprintf(`Bearer token used to authenticate with the agent service.
- Config path: [ %s ]`, config.AgentTokenConfigPath))

	command.Flags().Bool(cmdcommon.RecordFlagName, false,
		"Record every received frame to a transcript that replay can read.")

	command.Flags().String(RecordDirFlagName, "",
		fmt.Sprintf(`Directory transcripts are written to.
- Config path: [ %s ]`, config.TranscriptDirConfigPath))

	command.Flags().BoolP(YesFlagName, YesFlagShort, false,
		"Skip the confirmation prompt of /stop.")
}

// BindFlags binds the shared flags to their configuration paths.
func BindFlags(c *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(c, args)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	for flag, path := range map[string]string{
		cmdcommon.BaseURLFlagName: config.AgentBaseURLConfigPath,
		cmdcommon.TokenFlagName:   config.AgentTokenConfigPath,
		RecordDirFlagName:         config.TranscriptDirConfigPath,
	} {
		if f := c.Flags().Lookup(flag); f != nil {
			if err := cfg.BindFlag(path, f); err != nil {
				return err
			}
		}
	}

	yes, err := c.Flags().GetBool(YesFlagName)
	if err != nil {
		return err
	}
	cmd.SetAutoApprove(c, yes)
	return nil
}

// Host connects one session controller to the terminal.
type Host struct {
	helper  cmd.Helper
	logger  *slog.Logger
	ctrl    *session.Controller
	printer *console.Printer
	sink    *recordSink
	unmute  func()
}

// New builds a host from the command configuration. The session is not
// created until Start.
func New(helper cmd.Helper) (*Host, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return nil, err
	}
	backend, err := helper.GetBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	colorMode, err := helper.GetColorMode()
	if err != nil {
		return nil, err
	}

	streams := helper.GetStreams()
	useColor := cmdcommon.ShouldUseColor(colorMode, streams.Out)

	h := &Host{
		helper: helper,
		logger: logger,
		printer: console.NewPrinter(streams.Out, console.Options{
			Palette:  helper.GetPalette(),
			Color:    useColor,
			Width:    streams.TerminalWidth(),
			Markdown: useColor,
		}),
	}

	record, err := helper.GetCmd().Flags().GetBool(cmdcommon.RecordFlagName)
	if err == nil && record {
		dir := strings.TrimSpace(cfg.GetString(config.TranscriptDirConfigPath))
		if dir == "" {
			return nil, &cmd.ConfigurationError{
				Err: fmt.Errorf("--%s needs a transcript directory, set %s or pass --%s",
					cmdcommon.RecordFlagName, config.TranscriptDirConfigPath, RecordDirFlagName),
			}
		}
		h.sink = &recordSink{dir: dir, logger: logger}
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithReconnectDelay(cfg.GetDurationOrElse(config.AgentReconnectDelayConfigPath, config.DefaultReconnectDelay)),
	}
	if h.sink != nil {
		opts = append(opts, session.WithFrameHook(h.sink.record))
	}
	h.ctrl = session.NewController(backend, opts...)
	return h, nil
}

// Controller exposes the session controller.
func (h *Host) Controller() *session.Controller {
	return h.ctrl
}

// Printer exposes the console printer. It must only be used from the
// goroutine running Loop.
func (h *Host) Printer() *console.Printer {
	return h.printer
}

// Start creates the session. Console error logging stays muted until Close
// so log output does not tear the conversation.
func (h *Host) Start(req event.CreateRequest) error {
	ctx := log.WithHTTPLogContext(h.helper.GetContext(), log.HTTPLogContext{SessionKind: string(req.Kind)})

	handle, err := h.ctrl.Start(ctx, req)
	if err != nil {
		return cmd.PrepareExecutionErrorWithHelper(h.helper, "failed to start the session", err,
			"kind", string(req.Kind))
	}
	h.unmute = log.MuteConsole()

	if h.sink != nil {
		s := handle.Snapshot()
		info, _ := h.helper.GetBuildInfo()
		version := ""
		if info != nil {
			version = info.Version
		}
		if err := h.sink.open(s, version); err != nil {
			h.logger.Warn("transcript recording disabled", slog.String("error", err.Error()))
		} else {
			h.printer.Info("recording to " + h.sink.directory())
		}
	}
	return nil
}

// Close disposes the controller and restores console logging.
func (h *Host) Close() {
	h.ctrl.Dispose()
	h.printer.Finish()
	if h.unmute != nil {
		h.unmute()
		h.unmute = nil
	}
}

// LoopOptions tunes Loop for a session kind.
type LoopOptions struct {
	// QuitOnEOF ends the loop once input ended and the session is idle.
	// Runs keep following instead.
	QuitOnEOF bool
	// Queue holds input lines until the session can take them. It suits
	// piped input, where nobody reads rejections.
	Queue bool
	// Initial lines are queued ahead of any input.
	Initial []string
}

// ErrDetached is returned by Loop when the user left a session that is
// still live on the agent.
var ErrDetached = errors.New("detached from a live session")

// Loop prints every snapshot and dispatches input lines until the session
// ends, the user quits or ctx is done. It returns the last snapshot seen.
func (h *Host) Loop(ctx context.Context, input *cmd.LineReader, opts LoopOptions) (session.Session, error) {
	snaps, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	var (
		lines   = input.Lines()
		last    = h.ctrl.Snapshot()
		pending = append([]string(nil), opts.Initial...)
		eof     bool
	)

	// drain dispatches queued lines while the session accepts input.
	drain := func() (bool, error) {
		for len(pending) > 0 && idle(last) {
			line := pending[0]
			pending = pending[1:]
			quit, err := h.Dispatch(ctx, input, line)
			if err != nil {
				h.printer.Notice(err.Error())
			}
			last = h.ctrl.Snapshot()
			if quit {
				return true, ErrDetached
			}
		}
		if eof && opts.QuitOnEOF && len(pending) == 0 && idle(last) {
			return true, ErrDetached
		}
		return false, nil
	}

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()

		case s, ok := <-snaps:
			if !ok {
				return last, nil
			}
			last = s
			h.printer.Update(s)
			if ended(s) {
				return s, nil
			}
			if done, err := drain(); done {
				return last, err
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				eof = true
			} else if opts.Queue {
				pending = append(pending, line)
			} else {
				quit, err := h.Dispatch(ctx, input, line)
				if err != nil {
					h.printer.Notice(err.Error())
				}
				last = h.ctrl.Snapshot()
				if quit {
					return last, ErrDetached
				}
			}
			if done, err := drain(); done {
				return last, err
			}
		}
	}
}

// Interactive runs the full-screen chat view until the session ends, the
// user leaves or ctx is done. Leaving a live session returns ErrDetached.
func (h *Host) Interactive(ctx context.Context, initial []string) (session.Session, error) {
	colorMode, err := h.helper.GetColorMode()
	if err != nil {
		return h.ctrl.Snapshot(), err
	}
	streams := h.helper.GetStreams()
	useColor := cmdcommon.ShouldUseColor(colorMode, streams.Out)

	res, err := tui.Run(ctx, streams, tui.Options{
		Controller: h.ctrl,
		Dispatch: func(ctx context.Context, line string) (tui.Reply, error) {
			var reply tui.Reply
			approved := func(string) (bool, error) { return true, nil }
			quit, err := h.dispatch(ctx, line, approved, func(msg string) { reply.Info = msg })
			reply.Quit = quit
			return reply, err
		},
		Confirm:  h.confirmQuestion,
		Initial:  initial,
		Palette:  h.helper.GetPalette(),
		UseColor: useColor,
		Markdown: useColor,
		Width:    streams.TerminalWidth(),
		Logger:   h.logger,
	})
	if err == nil && res.Quit && !ended(res.Session) {
		err = ErrDetached
	}
	return res.Session, err
}

// confirmQuestion returns the question the chat view asks before line runs.
func (h *Host) confirmQuestion(line string) string {
	line = strings.TrimSpace(line)
	name, _, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	if !strings.HasPrefix(line, "/") || !strings.EqualFold(name, "stop") || cmd.AutoApproveEnabled(h.helper) {
		return ""
	}
	return stopQuestion
}

func ended(s session.Session) bool {
	return s.Status.IsTerminal() || s.AuthExpired
}

// idle reports whether the session can take the next input line.
func idle(s session.Session) bool {
	if s.IsRun() {
		return s.AwaitingUserInput || (s.PendingQuestion != nil && !s.Busy)
	}
	return !s.Busy && s.Status != session.StatusQueued
}

// Dispatch runs one line of input: a slash command or a message to send.
func (h *Host) Dispatch(ctx context.Context, input *cmd.LineReader, line string) (quit bool, err error) {
	confirm := func(question string) (bool, error) {
		return cmd.Confirm(h.helper, input, question)
	}
	return h.dispatch(ctx, line, confirm, h.printer.Info)
}

const stopQuestion = "Stop the session on the agent?"

func (h *Host) dispatch(ctx context.Context, line string,
	confirm func(question string) (bool, error), info func(msg string),
) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, h.ctrl.Send(ctx, line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		info(helpText)
		return false, nil
	case "cancel":
		return false, h.ctrl.Cancel(ctx)
	case "stop":
		ok, err := confirm(stopQuestion)
		if err != nil || !ok {
			return false, err
		}
		return false, h.ctrl.Stop(ctx)
	case "retry":
		return false, h.ctrl.Retry(ctx)
	case "skip":
		return false, h.ctrl.SkipQuestion(ctx)
	case "answer":
		answers, err := ParseAnswers(h.ctrl.Snapshot().PendingQuestion, rest)
		if err != nil {
			return false, err
		}
		return false, h.ctrl.AnswerQuestion(ctx, answers)
	case "dismiss":
		h.ctrl.DismissError()
		return false, nil
	case "send":
		return false, h.ctrl.Send(ctx, rest)
	}
	return false, fmt.Errorf("unknown command /%s, type /help for the list", name)
}

const helpText = `commands:
  <text>                       send a message
  /answer <header>=<v>[,<v>]   answer the pending question, join several headers with ;
  /skip                        let the agent proceed without an answer
  /cancel                      cancel the turn in progress
  /retry                       resend the last message
  /dismiss                     clear the last error
  /stop                        end the session on the agent
  /send <text>                 send text that starts with /
  /quit                        leave, the session keeps running on the agent`

// ParseAnswers reads "header=value,value; header=value". With a single
// question the header may be left out. Numeric values pick the option at
// that position.
func ParseAnswers(q *session.PendingQuestion, raw string) ([]session.Answer, error) {
	if q == nil {
		return nil, session.ErrNoPendingQuestion
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("usage: /answer <header>=<value>[,<value>]")
	}

	var answers []session.Answer
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		header, values, found := strings.Cut(part, "=")
		if !found {
			if len(q.Questions) != 1 {
				return nil, fmt.Errorf("answer %q needs a header, the agent asked %d questions", part, len(q.Questions))
			}
			header, values = q.Questions[0].Header, part
		}

		header = strings.TrimSpace(header)
		question, ok := findQuestion(q, header)
		if !ok {
			return nil, fmt.Errorf("no question with header %q", header)
		}

		var picked []string
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				picked = append(picked, resolveOption(question, v))
			}
		}
		if len(picked) > 1 && !question.MultiSelect && len(question.Options) > 0 {
			return nil, fmt.Errorf("question %q takes a single answer", header)
		}
		answers = append(answers, session.Answer{Header: header, Values: picked})
	}
	return answers, nil
}

func findQuestion(q *session.PendingQuestion, header string) (event.Question, bool) {
	for _, question := range q.Questions {
		if strings.EqualFold(strings.TrimSpace(question.Header), header) {
			return question, true
		}
	}
	return event.Question{}, false
}

func resolveOption(q event.Question, value string) string {
	if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= len(q.Options) {
		return q.Options[n-1].Label
	}
	for _, opt := range q.Options {
		if strings.EqualFold(opt.Label, value) {
			return opt.Label
		}
	}
	return value
}

// recordSink buffers frames until the session id is known, then writes them
// to a transcript recorder.
type recordSink struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	rec      *transcript.Recorder
	pending  []event.Frame
	disabled bool
}

func (r *recordSink) open(s session.Session, version string) error {
	rec, err := transcript.NewRecorder(r.dir, s.ID, transcript.Options{
		Kind:           s.Kind,
		Mode:           s.Mode,
		SessionCreated: s.CreatedAt,
		CLIVersion:     version,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.disabled = true
		r.pending = nil
		return err
	}
	r.rec = rec
	for _, f := range r.pending {
		r.write(f)
	}
	r.pending = nil
	return nil
}

func (r *recordSink) record(f event.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.disabled:
	case r.rec == nil:
		r.pending = append(r.pending, f)
	default:
		r.write(f)
	}
}

func (r *recordSink) write(f event.Frame) {
	if err := r.rec.Record(f); err != nil {
		r.logger.Warn("failed to record frame",
			slog.String("type", f.Type.String()),
			slog.String("error", err.Error()))
	}
}

func (r *recordSink) directory() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == nil {
		return ""
	}
	return r.rec.Directory()
}
