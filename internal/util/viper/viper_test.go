package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewViperEnvKeyReplacer(t *testing.T) {
	t.Setenv("KAICTL_LOG_LEVEL", "debug")
	t.Setenv("KAICTL_AGENT_BASE_URL", "https://agent.example.com")

	v := NewViper("nonexistent.yaml")

	assert.Equal(t, "debug", v.GetString("log-level"))
	assert.Equal(t, "https://agent.example.com", v.GetString("agent.base-url"))
}

func TestNewViperEMissingFile(t *testing.T) {
	_, err := NewViperE(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInitializeDefaultViperWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaictl", "config.yaml")

	v, err := InitializeDefaultViper(map[string]any{
		"default": map[string]any{"output": "text"},
	}, path)
	require.NoError(t, err)
	assert.Equal(t, "text", v.GetString("default.output"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "output: text")

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	// an existing file is left alone
	v, err = InitializeDefaultViper(map[string]any{"default": map[string]any{"output": "json"}}, path)
	require.NoError(t, err)
	assert.Equal(t, "text", v.GetString("default.output"))
}
