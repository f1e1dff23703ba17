package profile

import (
	"os"
	"sort"
	"strings"

	"github.com/kong/kaictl/internal/meta"
	"github.com/spf13/viper"
)

const (
	DefaultProfile = "default"
)

// EnvVar names the environment variable that selects a profile.
func EnvVar() string {
	return strings.ToUpper(meta.CLIName) + "_PROFILE"
}

// Resolve picks the active profile. An explicitly set flag wins over the
// environment, which wins over the default.
func Resolve(flagValue string, flagSet bool) string {
	if flagSet && strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	if env, ok := os.LookupEnv(EnvVar()); ok && strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	return DefaultProfile
}

// Names lists the profiles defined in a configuration, sorted.
func Names(config *viper.Viper) []string {
	seen := make(map[string]bool)
	for _, key := range config.AllKeys() {
		top, _, _ := strings.Cut(key, ".")
		seen[top] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty type to represent the _type_ profile names. Genesis is to support a key in a Context
type Key struct{}

// NamesKey holds the profiles of the loaded configuration in a Context
var NamesKey = Key{}
