package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/kong/kaictl/internal/build"
	"github.com/kong/kaictl/internal/cmd"
	"github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/cmd/root/verbs/chat"
	profilecmd "github.com/kong/kaictl/internal/cmd/root/verbs/profile"
	"github.com/kong/kaictl/internal/cmd/root/verbs/replay"
	"github.com/kong/kaictl/internal/cmd/root/verbs/run"
	"github.com/kong/kaictl/internal/cmd/root/version"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/iostreams"
	"github.com/kong/kaictl/internal/log"
	"github.com/kong/kaictl/internal/meta"
	"github.com/kong/kaictl/internal/profile"
	"github.com/kong/kaictl/internal/theme"
	"github.com/kong/kaictl/internal/util/i18n"
	"github.com/kong/kaictl/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

var (
	rootLong = normalizers.LongDesc(i18n.T("root.rootLong", `
  kaictl talks to the Kong AI agent from the terminal. Chat with the agent,
  follow autonomous runs that work on issues, and replay recorded sessions.

  Connection settings live in the configuration file under a profile:

    default:
      agent:
        base-url: https://agent.example.com
        token: <token>`))

	rootShort = i18n.Tf("root.rootShort", "%s drives Kong AI agent sessions", meta.CLIName)
)

// state holds the values the root flags resolve to for one execution.
type state struct {
	streams   *iostreams.IOStreams
	buildInfo *build.Info

	configFilePath        string
	defaultConfigFilePath string
	profileName           string

	outputFormat *cmd.FlagEnum
	logLevel     *cmd.FlagEnum
	colorMode    *cmd.FlagEnum
	colorTheme   *theme.Flag

	logCloser io.Closer
}

func newRootCmd(st *state) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               meta.CLIName,
		Short:             rootShort,
		Long:              rootLong,
		PersistentPreRunE: st.initialize,
	}

	// parses all flags not just the target command
	rootCmd.TraverseChildren = true

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&st.configFilePath, common.ConfigFilePathFlagName, st.defaultConfigFilePath,
		i18n.T("root."+common.ConfigFilePathFlagName, "Path to the configuration file to load."))

	flags.StringVarP(&st.profileName, common.ProfileFlagName, common.ProfileFlagShort,
		profile.DefaultProfile,
		fmt.Sprintf("Specify the profile to use for this command. Also read from %s.", profile.EnvVar()))

	flags.VarP(st.outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.OutputConfigPath, st.outputFormat.Usage()))

	flags.Var(st.logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Configures the logging level. Execution logs are written to the log file.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.LogLevelConfigPath, st.logLevel.Usage()))

	flags.String(common.LogFileFlagName, "",
		fmt.Sprintf(`Write execution logs to the specified file instead of the default path.
- Config path: [ %s ]`, config.LogFileConfigPath))

	flags.Var(st.colorMode, common.ColorFlagName,
		fmt.Sprintf(`Controls colorized output.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.ColorConfigPath, st.colorMode.Usage()))

	flags.Var(st.colorTheme, common.ColorThemeFlagName,
		fmt.Sprintf(`Color theme of the session output.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.ColorThemeConfigPath, strings.Join(theme.Available(), "|")))

	rootCmd.AddCommand(
		version.NewVersionCmd(),
		chat.NewChatCmd(),
		run.NewRunCmd(),
		replay.NewReplayCmd(),
		profilecmd.NewProfileCmd(),
	)

	return rootCmd
}

// initialize loads the configuration and builds the logger every command
// finds in its context.
func (st *state) initialize(c *cobra.Command, _ []string) error {
	profileName := profile.Resolve(st.profileName, c.Flags().Changed(common.ProfileFlagName))

	cfg, err := config.GetConfig(st.configFilePath, profileName, st.defaultConfigFilePath)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	for flag, path := range map[string]string{
		common.OutputFlagName:     common.OutputConfigPath,
		common.LogLevelFlagName:   common.LogLevelConfigPath,
		common.LogFileFlagName:    config.LogFileConfigPath,
		common.ColorFlagName:      common.ColorConfigPath,
		common.ColorThemeFlagName: common.ColorThemeConfigPath,
	} {
		if err := cfg.BindFlag(path, c.Flags().Lookup(flag)); err != nil {
			return &cmd.ConfigurationError{Err: err}
		}
	}
	if _, err := common.OutputFormatStringToIota(cfg.GetString(common.OutputConfigPath)); err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	logger, closer, err := log.Setup(log.Options{
		Level:   cfg.GetString(common.LogLevelConfigPath),
		File:    cfg.GetString(config.LogFileConfigPath),
		Console: st.streams.ErrOut,
	})
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	st.logCloser = closer

	palette, ok := theme.Get(cfg.GetString(common.ColorThemeConfigPath))
	if !ok {
		palette, _ = theme.Get(theme.DefaultName)
	}

	names := profile.Names(cfg.Viper)
	if !slices.Contains(names, profileName) {
		logger.Warn("profile has no configuration, relying on flags and environment",
			slog.String("profile", profileName),
			slog.String("config_file", cfg.GetPath()))
	}

	ctx := context.WithValue(c.Context(), config.ConfigKey, config.Hook(cfg))
	ctx = context.WithValue(ctx, iostreams.StreamsKey, st.streams)
	ctx = context.WithValue(ctx, build.InfoKey, st.buildInfo)
	ctx = context.WithValue(ctx, log.LoggerKey, logger)
	ctx = context.WithValue(ctx, profile.NamesKey, names)
	ctx = theme.ContextWithPalette(ctx, palette)
	ctx = log.WithHTTPLogContext(ctx, log.HTTPLogContext{
		CommandPath: c.CommandPath(),
		CommandVerb: c.Name(),
	})
	c.SetContext(ctx)

	logger.Debug("command started",
		slog.String("command", c.CommandPath()),
		slog.String("profile", profileName))
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, s *iostreams.IOStreams, bi *build.Info) int {
	defaultPath, err := config.GetDefaultConfigFilePath()
	if err != nil {
		defaultPath = ""
	}

	st := &state{
		streams:               s,
		buildInfo:             bi,
		defaultConfigFilePath: defaultPath,
		outputFormat:          cmd.NewEnum(common.OutputFormats(), common.DefaultOutputFormat),
		logLevel:              cmd.NewEnum(common.LogLevels(), common.DefaultLogLevel),
		colorMode:             cmd.NewEnum(common.ColorModes(), common.DefaultColorMode),
		colorTheme:            theme.NewFlag(theme.DefaultName),
	}
	defer func() {
		if st.logCloser != nil {
			_ = st.logCloser.Close()
		}
	}()

	cobra.EnableTraverseRunHooks = true
	rootCmd := newRootCmd(st)
	rootCmd.SetIn(s.In)
	rootCmd.SetOut(s.Out)
	rootCmd.SetErr(s.ErrOut)

	err = rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	// cobra prints every other error itself
	var executionError *cmd.ExecutionError
	if errors.As(err, &executionError) {
		printError(s.ErrOut, st.outputFormat.String(), executionError.Msg, executionError.Err, executionError.Attrs)
	}
	return 1
}

// errorReport is the structured form of a failed command.
type errorReport struct {
	Error   string         `json:"error"             yaml:"error"`
	Details string         `json:"details,omitempty" yaml:"details,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"   yaml:"attrs,omitempty"`
}

func printError(out io.Writer, format, msg string, err error, attrs []any) {
	report := errorReport{Error: msg}
	if err != nil && err.Error() != msg {
		report.Details = err.Error()
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if report.Attrs == nil {
			report.Attrs = make(map[string]any)
		}
		report.Attrs[key] = attrs[i+1]
	}

	if format == common.DefaultOutputFormat {
		line := "Error: " + report.Error
		if report.Details != "" {
			line += ": " + report.Details
		}
		fmt.Fprintln(out, line)
		return
	}

	printer, perr := cli.Format(format, out)
	if perr != nil {
		fmt.Fprintln(out, "Error: "+report.Error)
		return
	}
	defer printer.Flush()
	printer.Print(report)
}
