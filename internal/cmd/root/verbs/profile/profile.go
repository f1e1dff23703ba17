package profile

import (
	"context"
	"fmt"
	"io"

	"github.com/kong/kaictl/internal/cmd"
	cmdcommon "github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/cmd/root/verbs"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/profile"
	"github.com/kong/kaictl/internal/util/i18n"
	"github.com/kong/kaictl/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Profile
)

var (
	profileShort = i18n.T("root.verbs.profile.short", "List the configuration profiles")
	profileLong  = normalizers.LongDesc(i18n.T("root.verbs.profile.long",
		`The profile command lists the profiles of the configuration file and marks the active one.
Select a profile with --profile or the environment variable named in the output.`))
)

// Entry describes one configured profile.
type Entry struct {
	Name    string `json:"name"    yaml:"name"`
	Current bool   `json:"current" yaml:"current"`
}

func NewProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:     Verb.String(),
		Short:   profileShort,
		Long:    profileLong,
		Aliases: []string{"profiles"},
		Args:    cobra.NoArgs,
		PreRun: func(c *cobra.Command, _ []string) {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}
}

// List pairs every known profile with whether it is current. The current
// profile is listed even when the configuration has no data for it.
func List(names []string, current string) []Entry {
	entries := make([]Entry, 0, len(names)+1)
	found := false
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Current: name == current})
		found = found || name == current
	}
	if !found && current != "" {
		entries = append(entries, Entry{Name: current, Current: true})
	}
	return entries
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	names, _ := helper.GetContext().Value(profile.NamesKey).([]string)
	entries := List(names, cfg.GetProfile())

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	out := helper.GetStreams().Out

	if outType == cmdcommon.TEXT {
		return printText(entries, cfg, out)
	}

	p, err := cli.Format(outType.String(), out)
	if err != nil {
		return err
	}
	defer p.Flush()
	p.Print(entries)
	return nil
}

func printText(entries []Entry, cfg config.Hook, out io.Writer) error {
	for _, e := range entries {
		marker := " "
		if e.Current {
			marker = "*"
		}
		if _, err := fmt.Fprintf(out, "%s %s\n", marker, e.Name); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "\nconfig: %s\nselect with --%s or %s\n",
		cfg.GetPath(), cmdcommon.ProfileFlagName, profile.EnvVar())
	return err
}
