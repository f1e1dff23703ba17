package verbs

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	Chat    = VerbValue("chat")
	Run     = VerbValue("run")
	Replay  = VerbValue("replay")
	Version = VerbValue("version")
	Profile = VerbValue("profile")
)

// Empty type to represent the _type_ Verb. Genesis is to support a key in a Context
type VerbKey struct{}

// Verb is a global instance of the VerbKey type
var Verb = VerbKey{}

// Will represent a specific Verb (chat, run, replay, etc)
type VerbValue string

func (v VerbValue) String() string {
	return string(v)
}

// ExactlyOneArg returns an Args validator naming the missing argument in its
// error instead of cobra's generic count message.
func ExactlyOneArg(name string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		switch {
		case len(args) == 0:
			return fmt.Errorf("missing required argument <%s>", name)
		case len(args) > 1:
			return fmt.Errorf("unexpected argument %q: only one <%s> is accepted", args[1], name)
		}
		return nil
	}
}
