package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

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
	Verb         = verbs.Chat
	nameFlagName = "name"
)

var (
	chatShort = i18n.T("root.verbs.chat.short", "Start an interactive session with the agent")
	chatLong  = normalizers.LongDesc(i18n.T("root.verbs.chat.long", `
  Start an interactive session with the agent and converse with it line by
  line. Lines starting with / are commands, type /help to list them.

  Arguments, when given, are sent as the first message.`))
	chatExample = normalizers.Examples(i18n.Tf("root.verbs.chat.examples", `
		# Start a conversation
		%[1]s chat
		# Ask a question and keep the conversation open
		%[1]s chat "why does the build fail on main?"
		# Record the session for later replay
		%[1]s chat --record`, meta.CLIName))
)

func NewChatCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     Verb.String() + " [message...]",
		Short:   chatShort,
		Long:    chatLong,
		Example: chatExample,
		PreRunE: bindFlags,
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	command.Flags().String(cmdcommon.ModelFlagName, "",
		fmt.Sprintf(`Model the agent should use.
- Config path: [ %s ]`, config.ChatModelConfigPath))
	command.Flags().String(cmdcommon.ModeFlagName, "",
		fmt.Sprintf(`Chat mode requested from the agent.
- Config path: [ %s ]`, config.ChatModeConfigPath))
	command.Flags().String(nameFlagName, "", "Display name of the session.")
	host.AddFlags(command)

	return command
}

func bindFlags(c *cobra.Command, args []string) error {
	c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
	if err := host.BindFlags(c, args); err != nil {
		return err
	}
	cfg, err := cmd.BuildHelper(c, args).GetConfig()
	if err != nil {
		return err
	}
	if err := cfg.BindFlag(config.ChatModelConfigPath, c.Flags().Lookup(cmdcommon.ModelFlagName)); err != nil {
		return err
	}
	return cfg.BindFlag(config.ChatModeConfigPath, c.Flags().Lookup(cmdcommon.ModeFlagName))
}

func buildRequest(helper cmd.Helper) (event.CreateRequest, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return event.CreateRequest{}, err
	}
	name, err := helper.GetCmd().Flags().GetString(nameFlagName)
	if err != nil {
		return event.CreateRequest{}, err
	}
	return event.CreateRequest{
		Kind:  event.KindInteractive,
		Name:  strings.TrimSpace(name),
		Model: strings.TrimSpace(cfg.GetString(config.ChatModelConfigPath)),
		Mode:  strings.TrimSpace(cfg.GetString(config.ChatModeConfigPath)),
	}, nil
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

	streams := helper.GetStreams()

	var initial []string
	if prompt := strings.TrimSpace(strings.Join(helper.GetArgs(), " ")); prompt != "" {
		initial = append(initial, prompt)
	}
	if streams.IsInputTerminal() && streams.IsOutputTerminal() {
		final, err := h.Interactive(helper.GetContext(), initial)
		return finish(helper, h, final, err)
	}

	input := cmd.NewLineReader(streams.In)
	defer input.Close()

	if streams.IsInputTerminal() {
		h.Printer().Info("type /help for commands, /quit to leave")
	}

	final, err := h.Loop(helper.GetContext(), input, host.LoopOptions{
		QuitOnEOF: true,
		Queue:     !streams.IsInputTerminal(),
		Initial:   initial,
	})
	return finish(helper, h, final, err)
}

// finish maps the way the loop ended to the command result.
func finish(helper cmd.Helper, h *host.Host, final session.Session, err error) error {
	switch {
	case final.AuthExpired:
		return cmd.PrepareExecutionErrorWithHelper(helper, session.ErrAuthExpired.Error(), session.ErrAuthExpired)
	case errors.Is(err, context.Canceled), errors.Is(err, host.ErrDetached), err == nil:
		if final.ID != "" && !final.Status.IsTerminal() {
			h.Printer().Info(fmt.Sprintf("left session %s", final.ID))
		}
		return nil
	default:
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	}
}
