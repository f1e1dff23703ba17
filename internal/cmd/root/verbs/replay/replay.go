package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kong/kaictl/internal/cmd"
	cmdcommon "github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/cmd/output/jq"
	"github.com/kong/kaictl/internal/cmd/root/verbs"
	"github.com/kong/kaictl/internal/console"
	"github.com/kong/kaictl/internal/meta"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/transcript"
	"github.com/kong/kaictl/internal/util/i18n"
	"github.com/kong/kaictl/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Replay

	SummaryFlagName = "summary"
	UntilFlagName   = "until"
)

var (
	replayShort = i18n.T("root.verbs.replay.short", "Rebuild a session from a transcript")
	replayLong  = normalizers.LongDesc(i18n.T("root.verbs.replay.long", `
  Replay the frames of a recorded transcript, or of a hand-written frame
  script, against a fresh session without contacting the agent.

  Text output prints the conversation as it unfolded. JSON and YAML output
  print the final session snapshot, which --jq can filter.`))
	replayExample = normalizers.Examples(i18n.Tf("root.verbs.replay.examples", `
		# Replay a recorded session
		%[1]s replay ~/.config/%[1]s/transcripts/2026-10-19-s-42
		# Print the final snapshot as JSON
		%[1]s replay frames.jsonl -o json
		# Show the token totals of a script
		%[1]s replay script.yaml -o json --jq .totals
		# Inspect the session after the first ten frames
		%[1]s replay script.yaml --until 10 -o yaml`, meta.CLIName))
)

func NewReplayCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     Verb.String() + " <transcript>",
		Short:   replayShort,
		Long:    replayLong,
		Example: replayExample,
		Args:    verbs.ExactlyOneArg("transcript"),
		PreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return jq.BindFlags(cfg, c.Flags())
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	command.Flags().Bool(SummaryFlagName, false,
		"Print only the final state in text output instead of every step.")
	command.Flags().Int(UntilFlagName, 0,
		"Stop after this many frames. Zero replays every frame.")
	jq.AddFlags(command.Flags())

	return command
}

// Replay applies every frame of script to a fresh session. step, when not
// nil, sees each intermediate snapshot. Frames the reducer cannot decode are
// logged and skipped; effects are ignored.
func Replay(script transcript.Script, limit int, logger *slog.Logger, step func(session.Session)) session.Session {
	s := session.New(script.Kind, script.Mode)
	s.ID = script.SessionID

	for i, f := range script.Frames {
		if limit > 0 && i >= limit {
			break
		}
		next, effects, err := session.Reduce(s, f)
		if err != nil {
			logger.Warn("skipping malformed frame",
				slog.Int("index", i),
				slog.String("type", f.Type.String()),
				slog.String("error", err.Error()))
			continue
		}
		for _, e := range effects {
			logger.Debug("ignoring effect during replay",
				slog.Int("index", i),
				slog.String("effect", e.String()))
		}
		s = next
		if step != nil {
			step(s)
		}
	}
	return s
}

func run(helper cmd.Helper) error {
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	settings, err := jq.ResolveSettings(helper.GetCmd(), cfg)
	if err != nil {
		return err
	}
	if err := jq.Validate(outType, settings); err != nil {
		return err
	}

	flags := helper.GetCmd().Flags()
	summary, err := flags.GetBool(SummaryFlagName)
	if err != nil {
		return err
	}
	limit, err := flags.GetInt(UntilFlagName)
	if err != nil {
		return err
	}
	if limit < 0 {
		return &cmd.ConfigurationError{Err: fmt.Errorf("--%s cannot be negative", UntilFlagName)}
	}

	path := helper.GetArgs()[0]
	script, err := transcript.Load(path)
	if err != nil {
		return cmd.PrepareExecutionErrorWithHelper(helper, "failed to load transcript", err, "path", path)
	}
	logger.Debug("replaying transcript",
		slog.String("path", path),
		slog.Int("frames", len(script.Frames)))

	streams := helper.GetStreams()

	if outType == cmdcommon.TEXT {
		colorMode, err := helper.GetColorMode()
		if err != nil {
			return err
		}
		useColor := cmdcommon.ShouldUseColor(colorMode, streams.Out)
		opts := console.Options{
			Palette:  helper.GetPalette(),
			Color:    useColor,
			Width:    streams.TerminalWidth(),
			Markdown: useColor,
		}
		if summary {
			console.Summary(streams.Out, Replay(script, limit, logger, nil), opts)
			return nil
		}
		printer := console.NewPrinter(streams.Out, opts)
		Replay(script, limit, logger, printer.Update)
		printer.Finish()
		return nil
	}

	final := Replay(script, limit, logger, nil)
	result, written, err := jq.Apply(final, outType, settings, streams.Out)
	if err != nil {
		return cmd.PrepareExecutionErrorWithHelper(helper, "failed to apply jq filter", err)
	}
	if written {
		return nil
	}

	p, err := cli.Format(outType.String(), streams.Out)
	if err != nil {
		return err
	}
	defer p.Flush()
	p.Print(result)
	return nil
}
