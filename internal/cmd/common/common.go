package common

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Represents an enum of valid values for the format of the output for this CLI execution
type OutputFormat int

type LogLevel int

type ColorMode int

const (
	JSON OutputFormat = iota
	YAML
	TEXT
)

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	ColorModeAuto ColorMode = iota
	ColorModeAlways
	ColorModeNever
)

const (
	// related to the --output flag
	DefaultOutputFormat = "text"
	OutputFlagName      = "output"
	OutputFlagShort     = "o"
	OutputConfigPath    = OutputFlagName

	// related to the --color flag
	ColorFlagName    = "color"
	ColorConfigPath  = ColorFlagName
	DefaultColorMode = "auto"

	// related to the --color-theme flag
	ColorThemeFlagName   = "color-theme"
	ColorThemeConfigPath = ColorThemeFlagName

	// related to the --profile flag
	ProfileFlagName  = "profile"
	ProfileFlagShort = "p"

	// related to the --config-file flag
	ConfigFilePathFlagName = "config-file"

	// related to the --log-level flag
	LogLevelFlagName   = "log-level"
	DefaultLogLevel    = "info"
	LogLevelConfigPath = LogLevelFlagName

	// related to the --log-file flag
	LogFileFlagName = "log-file"

	// related to the agent connection flags
	BaseURLFlagName = "base-url"
	TokenFlagName   = "token"

	// related to the session flags of chat and run
	ModeFlagName   = "mode"
	ModelFlagName  = "model"
	RecordFlagName = "record"
)

var (
	outputFormats = []string{"json", "yaml", "text"}
	logLevels     = []string{"trace", "debug", "info", "warn", "error"}
	colorModes    = []string{"auto", "always", "never"}
)

func (of OutputFormat) String() string {
	return outputFormats[of]
}

// OutputFormats lists the accepted --output values.
func OutputFormats() []string {
	return append([]string(nil), outputFormats...)
}

func OutputFormatStringToIota(format string) (OutputFormat, error) {
	switch format {
	case "json":
		return JSON, nil
	case "yaml":
		return YAML, nil
	case "text":
		return TEXT, nil
	default:
		return TEXT, fmt.Errorf("invalid output format %q, must be one of %v", format, outputFormats)
	}
}

func (ll LogLevel) String() string {
	return logLevels[ll]
}

// LogLevels lists the accepted --log-level values.
func LogLevels() []string {
	return append([]string(nil), logLevels...)
}

func LogLevelStringToIota(level string) (LogLevel, error) {
	switch level {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return ERROR, fmt.Errorf("invalid log level %q, must be one of %v", level, logLevels)
	}
}

func (cm ColorMode) String() string {
	switch cm {
	case ColorModeAuto:
		return "auto"
	case ColorModeAlways:
		return "always"
	case ColorModeNever:
		return "never"
	default:
		return "auto"
	}
}

// ColorModes lists the accepted --color values.
func ColorModes() []string {
	return append([]string(nil), colorModes...)
}

func ColorModeStringToIota(mode string) (ColorMode, error) {
	switch mode {
	case "auto", "":
		return ColorModeAuto, nil
	case "always":
		return ColorModeAlways, nil
	case "never":
		return ColorModeNever, nil
	default:
		return ColorModeAuto, fmt.Errorf("invalid color mode %q, must be one of %v", mode, colorModes)
	}
}

// TerminalDetector reports whether fd is a terminal. Tests replace it.
var TerminalDetector = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ShouldUseColor resolves a color mode against the writer output goes to.
// Auto honors NO_COLOR and only colors terminals.
func ShouldUseColor(mode ColorMode, out io.Writer) bool {
	switch mode {
	case ColorModeAlways:
		return true
	case ColorModeNever:
		return false
	default:
		if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
			return false
		}
		return IsTerminal(out)
	}
}

// IsTerminal reports whether out writes to a terminal.
func IsTerminal(out io.Writer) bool {
	fw, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return TerminalDetector(fw.Fd())
}
