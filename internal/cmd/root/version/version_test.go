package version

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/kong/kaictl/internal/build"
	"github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/iostreams"
	"github.com/kong/kaictl/test/cmd"
	testConfig "github.com/kong/kaictl/test/config"
	"github.com/stretchr/testify/require"
)

func newHelper(outputFormat common.OutputFormat, showCommit bool) (*cmd.MockHelper, *bytes.Buffer) {
	all, _, out, _ := iostreams.NewTestIOStreams()
	return &cmd.MockHelper{
		GetOutputFormatMock: func() (common.OutputFormat, error) {
			return outputFormat, nil
		},
		GetConfigMock: func() (config.Hook, error) {
			return &testConfig.MockConfigHook{
				GetBoolMock: func(key string) bool {
					return key == ShowCommitConfigPath && showCommit
				},
			}, nil
		},
		GetStreamsMock: func() *iostreams.IOStreams {
			return &all
		},
		GetBuildInfoMock: func() (*build.Info, error) {
			return &build.Info{
				Version: "1.4.0",
				Commit:  "abc1234",
				Date:    "2026-10-01",
			}, nil
		},
	}, out
}

func Test_VersionCmd(t *testing.T) {
	helper, out := newHelper(common.TEXT, false)
	require.NoError(t, run(helper))
	require.Equal(t, "1.4.0\n", out.String())
}

func Test_VersionCmdShowCommit(t *testing.T) {
	helper, out := newHelper(common.TEXT, true)
	require.NoError(t, run(helper))
	require.Equal(t, "1.4.0 (abc1234, 2026-10-01)\n", out.String())
}

func Test_VersionCmdJsonOutput(t *testing.T) {
	helper, out := newHelper(common.JSON, true)
	require.NoError(t, run(helper))

	var actual map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.String()), &actual))
	require.Equal(t, map[string]any{
		"version": "1.4.0",
		"commit":  "abc1234",
		"date":    "2026-10-01",
	}, actual)
}
