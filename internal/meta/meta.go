package meta

const (
	// CLIName is the binary name and the directory name used under the config home.
	CLIName = "kaictl"
)
