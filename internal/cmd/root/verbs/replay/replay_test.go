package replay

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kong/kaictl/internal/cmd"
	"github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/event"
	"github.com/kong/kaictl/internal/iostreams"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/transcript"
	testcmd "github.com/kong/kaictl/test/cmd"
	testConfig "github.com/kong/kaictl/test/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runScript = `
sessionId: r-1
kind: autonomous-run
mode: guided
frames:
  - type: connected
  - type: text
    data:
      messageId: m1
      content: Looking at the failing test
  - type: tool_use
    data:
      id: t1
      name: Bash
      input:
        command: go test ./internal/...
  - type: tool_result
    data:
      toolUseId: t1
      content: FAIL
      isError: true
  - type: epic_progress
    data: not-an-object
  - type: status
    data:
      status: paused
      awaitingInput: true
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReplaySkipsMalformedFrames(t *testing.T) {
	script, err := transcript.Load(writeScript(t, runScript))
	require.NoError(t, err)

	var steps int
	s := Replay(script, 0, discardLogger(), func(session.Session) { steps++ })

	// the malformed epic frame is skipped
	assert.Equal(t, 5, steps)
	assert.Equal(t, "r-1", s.ID)
	assert.Equal(t, session.StatusPaused, s.Status)
	assert.True(t, s.AwaitingUserInput)
	assert.Nil(t, s.Epic)

	calls := s.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, session.ToolCallFailed, calls[0].State)
}

func TestReplayStopsAtLimit(t *testing.T) {
	script, err := transcript.Load(writeScript(t, runScript))
	require.NoError(t, err)

	s := Replay(script, 2, discardLogger(), nil)
	assert.Equal(t, session.StatusRunning, s.Status)
	require.Len(t, s.Entries, 1)
	assert.True(t, s.Entries[0].IsStreaming)
}

func TestReplayIgnoresEffects(t *testing.T) {
	expired, err := event.New(event.TypeAuthExpired, nil)
	require.NoError(t, err)
	script := transcript.Script{SessionID: "s-1", Kind: event.KindInteractive, Frames: []event.Frame{expired}}

	s := Replay(script, 0, discardLogger(), nil)
	assert.True(t, s.AuthExpired)
	assert.Empty(t, s.ID)
}

func newHelper(t *testing.T, outType common.OutputFormat, args ...string) (*testcmd.MockHelper, *bytes.Buffer) {
	t.Helper()
	streams, _, out, _ := iostreams.NewTestIOStreams()

	command := NewReplayCmd()
	require.NoError(t, command.Flags().Parse(args[1:]))

	return &testcmd.MockHelper{
		GetCmdMock:          func() *cobra.Command { return command },
		GetArgsMock:         func() []string { return args[:1] },
		GetStreamsMock:      func() *iostreams.IOStreams { return &streams },
		GetOutputFormatMock: func() (common.OutputFormat, error) { return outType, nil },
		GetConfigMock:       func() (config.Hook, error) { return testConfig.Values(nil), nil },
	}, out
}

func TestRunTextOutput(t *testing.T) {
	helper, out := newHelper(t, common.TEXT, writeScript(t, runScript))
	require.NoError(t, run(helper))

	printed := out.String()
	assert.Contains(t, printed, "status: running\n")
	assert.Contains(t, printed, "Agent › Looking at the failing test\n")
	assert.Contains(t, printed, "⏺ Bash(go test ./internal/...)\n")
	assert.Contains(t, printed, "  ⎿ FAIL\n")
	assert.Contains(t, printed, "status: paused\n")
}

func TestRunSummaryOutput(t *testing.T) {
	helper, out := newHelper(t, common.TEXT, writeScript(t, runScript), "--summary")
	require.NoError(t, run(helper))
	assert.Contains(t, out.String(), "session r-1 (autonomous-run, guided)\n")
}

func TestRunJSONOutputWithFilter(t *testing.T) {
	helper, out := newHelper(t, common.JSON, writeScript(t, runScript), "--jq", "{status, awaiting: .awaitingUserInput}")
	require.NoError(t, run(helper))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, map[string]any{"status": "paused", "awaiting": true}, got)
}

func TestRunRejectsNegativeLimit(t *testing.T) {
	helper, _ := newHelper(t, common.JSON, writeScript(t, runScript), "--until=-1")
	require.ErrorContains(t, run(helper), "cannot be negative")
}

func TestRunMissingTranscript(t *testing.T) {
	helper, _ := newHelper(t, common.TEXT, filepath.Join(t.TempDir(), "gone.jsonl"))
	err := run(helper)
	var execErr *cmd.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "failed to load transcript", execErr.Msg)
}
