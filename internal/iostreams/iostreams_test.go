package iostreams

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestStreamsAreNotTerminals(t *testing.T) {
	s, _, _, _ := NewTestIOStreams()

	assert.False(t, s.IsOutputTerminal())
	assert.False(t, s.IsInputTerminal())
	assert.Equal(t, 80, s.TerminalWidth())
}

func TestRegularFileIsNotATerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	s := &IOStreams{In: f, Out: f, ErrOut: f}
	assert.False(t, s.IsOutputTerminal())
	assert.Equal(t, 80, s.TerminalWidth())
}
