package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kong/kaictl/internal/cmd"
	cmdcommon "github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/cmd/root/verbs"
	"github.com/kong/kaictl/internal/cmd/root/verbs/host"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/event"
	"github.com/kong/kaictl/internal/meta"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/util/i18n"
	"github.com/kong/kaictl/internal/util/normalizers"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Run

	RequestFlagName = "request"
	EpicFlagName    = "epic-task"
)

var (
	runShort = i18n.T("root.verbs.run.short", "Start an autonomous run for an issue")
	runLong  = normalizers.LongDesc(i18n.T("root.verbs.run.long", `
  Start an autonomous run that works on an issue and follow its progress
  until it completes, fails or is cancelled.

  A guided run accepts messages at any time; an autonomous run only when the
  agent waits for input. Interrupting the command leaves the run going on
  the agent.`))
	runExample = normalizers.Examples(i18n.Tf("root.verbs.run.examples", `
		# Work on an issue without supervision
		%[1]s run KAI-123
		# Work on an issue and steer the agent along the way
		%[1]s run KAI-123 --mode guided
		# Work through the tasks of an epic in order
		%[1]s run KAI-100 --epic-task KAI-101 --epic-task KAI-102
		# Read the run parameters from a file
		%[1]s run KAI-123 --request run.toml`, meta.CLIName))
)

func NewRunCmd() *cobra.Command {
	mode := cmd.NewEnum([]string{event.ExecutionAutonomous, event.ExecutionGuided}, event.ExecutionAutonomous)

	command := &cobra.Command{
		Use:     Verb.String() + " <issue>",
		Short:   runShort,
		Long:    runLong,
		Example: runExample,
		Args:    verbs.ExactlyOneArg("issue"),
		PreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			if err := host.BindFlags(c, args); err != nil {
				return err
			}
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return cfg.BindFlag(config.RunModeConfigPath, c.Flags().Lookup(cmdcommon.ModeFlagName))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	command.Flags().Var(mode, cmdcommon.ModeFlagName,
		fmt.Sprintf(`Execution mode of the run.
- Config path: [ %s ]
- Allowed    : [ %s ]`, config.RunModeConfigPath, mode.Usage()))
	command.Flags().String(RequestFlagName, "",
		"TOML file with the run parameters. Flags and the issue argument override it.")
	command.Flags().StringArray(EpicFlagName, nil,
		"Task of an epic to work on, in order. Repeat for every task.")
	command.Flags().String(cmdcommon.ModelFlagName, "", "Model the agent should use.")
	host.AddFlags(command)

	return command
}

// buildRequest merges the request file, the configuration and the flags.
func buildRequest(helper cmd.Helper) (event.CreateRequest, error) {
	var req event.CreateRequest
	flags := helper.GetCmd().Flags()

	path, err := flags.GetString(RequestFlagName)
	if err != nil {
		return req, err
	}
	if path = strings.TrimSpace(path); path != "" {
		if req, err = readRequest(path); err != nil {
			return req, &cmd.ConfigurationError{Err: err}
		}
	}
	req.Kind = event.KindAutonomousRun

	if args := helper.GetArgs(); len(args) > 0 {
		req.IssueRef = strings.TrimSpace(args[0])
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return req, err
	}
	if flags.Changed(cmdcommon.ModeFlagName) || req.ExecutionMode == "" {
		req.ExecutionMode = strings.ToLower(strings.TrimSpace(cfg.GetString(config.RunModeConfigPath)))
	}
	if tasks, _ := flags.GetStringArray(EpicFlagName); len(tasks) > 0 {
		req.EpicTaskIDs = tasks
	}
	if model, _ := flags.GetString(cmdcommon.ModelFlagName); strings.TrimSpace(model) != "" {
		req.Model = strings.TrimSpace(model)
	}

	if err := req.Validate(); err != nil {
		return req, &cmd.ConfigurationError{Err: err}
	}
	return req, nil
}

func readRequest(path string) (event.CreateRequest, error) {
	var req event.CreateRequest
	raw, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read run request: %w", err)
	}
	md, err := toml.Decode(string(raw), &req)
	if err != nil {
		return req, fmt.Errorf("failed to decode run request %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return req, fmt.Errorf("unknown keys in run request %s: %v", path, undecoded)
	}
	return req, nil
}

func run(helper cmd.Helper) error {
	req, err := buildRequest(helper)
	if err != nil {
		return err
	}

	h, err := host.New(helper)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Start(req); err != nil {
		return err
	}

	input := cmd.NewLineReader(helper.GetStreams().In)
	defer input.Close()

	final, err := h.Loop(helper.GetContext(), input, host.LoopOptions{
		Queue: !helper.GetStreams().IsInputTerminal(),
	})

	switch {
	case final.AuthExpired:
		return cmd.PrepareExecutionErrorWithHelper(helper, session.ErrAuthExpired.Error(), session.ErrAuthExpired,
			"session_id", final.ID)
	case errors.Is(err, context.Canceled), errors.Is(err, host.ErrDetached):
		h.Printer().Info(fmt.Sprintf("detached, run %s continues on the agent", final.ID))
		return nil
	case err != nil:
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	case final.Status == session.StatusFailed:
		return cmd.PrepareExecutionErrorMsg(helper, "the run failed",
			"session_id", final.ID, "status", string(final.Status))
	}
	return nil
}
