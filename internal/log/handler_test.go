package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDualHandlerMirrorsErrorsToSecondary(t *testing.T) {
	var primaryBuf bytes.Buffer
	var secondaryBuf bytes.Buffer

	primary := slog.NewTextHandler(&primaryBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	secondary := slog.NewTextHandler(&secondaryBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewDualHandler(primary, secondary))

	logger.Error("boom", slog.String("foo", "bar"))
	logger.Warn("reconnecting")
	logger.Info("still going")

	got := primaryBuf.String()
	assert.Contains(t, got, "boom")
	assert.Contains(t, got, "reconnecting")
	assert.Contains(t, got, "still going")

	got = secondaryBuf.String()
	assert.Contains(t, got, "boom")
	assert.NotContains(t, got, "reconnecting")
	assert.NotContains(t, got, "still going")
}

func TestDualHandlerMuteConsole(t *testing.T) {
	var primaryBuf bytes.Buffer
	var secondaryBuf bytes.Buffer

	primary := slog.NewTextHandler(&primaryBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	secondary := slog.NewTextHandler(&secondaryBuf, nil)
	logger := slog.New(NewDualHandler(primary, secondary))

	restoreOuter := MuteConsole()
	restoreInner := MuteConsole()
	logger.Error("muted")
	restoreInner()
	restoreInner()
	logger.Error("still muted")
	restoreOuter()
	logger.Error("audible")

	assert.Contains(t, primaryBuf.String(), "muted")
	assert.Contains(t, primaryBuf.String(), "still muted")
	assert.NotContains(t, secondaryBuf.String(), "muted")
	assert.Contains(t, secondaryBuf.String(), "audible")
}

func TestDualHandlerWithoutPrimary(t *testing.T) {
	var console bytes.Buffer
	h := NewDualHandler(nil, NewFriendlyErrorHandler(&console))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	slog.New(h).With("session_id", "s-1").WithGroup("req").Error("stream failed", "attempt", 2)
	assert.Equal(t, "Error: stream failed\n  session_id: s-1\n  req.attempt: 2\n", console.String())
}

func TestFriendlyErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewFriendlyErrorHandler(&buf))

	logger.Info("ignored")
	logger.Error("agent unexpected status",
		slog.String("log_type", "http_response"),
		slog.String("snippet", "upstream\nunavailable"),
		slog.String("suggestion", "retry later"),
		slog.Int("status", 503),
		slog.String("session_id", "s-1"),
		slog.Any("error", errors.New("boom")))

	want := strings.Join([]string{
		"Error: agent unexpected status",
		"  session_id: s-1",
		"  status: 503",
		"  suggestion: retry later",
		"  error: boom",
		"  snippet: upstream",
		"    unavailable",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestFriendlyErrorHandlerFallsBackToError(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewFriendlyErrorHandler(&buf)).Error("", slog.String("error", "connection reset"))
	assert.Equal(t, "Error: connection reset\n", buf.String())
}

func TestConfigLevelStringToSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelError,
	}
	for in, want := range tests {
		assert.Equal(t, want, ConfigLevelStringToSlogLevel(in), in)
	}
}

func TestSetupWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kaictl.log")
	var console bytes.Buffer

	logger, closer, err := Setup(Options{Level: "trace", File: path, Console: &console})
	require.NoError(t, err)

	logger.Log(context.Background(), LevelTrace, "frame", slog.String("type", "text"))
	logger.Error("stream failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"TRACE"`)
	assert.Contains(t, string(data), `"msg":"stream failed"`)
	assert.Equal(t, "Error: stream failed\n", console.String())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetupWithoutOutputs(t *testing.T) {
	logger, closer, err := Setup(Options{Level: "debug"})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
	assert.NoError(t, closer.Close())
}
