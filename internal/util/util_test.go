package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDir(t *testing.T) {
	root := t.TempDir()
	t.Setenv("KAICTL_TEST_ROOT", root)

	require.NoError(t, InitDir("$KAICTL_TEST_ROOT/a/b/config.yaml", 0o700))

	info, err := os.Stat(filepath.Join(root, "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(filepath.Join(root, "a", "b", "config.yaml"))
	assert.True(t, os.IsNotExist(err))
}
