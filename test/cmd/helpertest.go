package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/kong/kaictl/internal/build"
	"github.com/kong/kaictl/internal/cmd/common"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/iostreams"
	"github.com/kong/kaictl/internal/session"
	"github.com/kong/kaictl/internal/theme"
	"github.com/spf13/cobra"
)

// MockHelper implements cmd.Helper. Unset mocks fall back to inert values
// so tests only stub what they exercise.
type MockHelper struct {
	GetCmdMock          func() *cobra.Command
	GetArgsMock         func() []string
	GetStreamsMock      func() *iostreams.IOStreams
	GetConfigMock       func() (config.Hook, error)
	GetOutputFormatMock func() (common.OutputFormat, error)
	GetColorModeMock    func() (common.ColorMode, error)
	GetPaletteMock      func() theme.Palette
	GetLoggerMock       func() (*slog.Logger, error)
	GetBuildInfoMock    func() (*build.Info, error)
	GetContextMock      func() context.Context
	GetBackendMock      func(cfg config.Hook, logger *slog.Logger) (session.Backend, error)
}

func (m *MockHelper) GetCmd() *cobra.Command {
	if m.GetCmdMock == nil {
		return &cobra.Command{}
	}
	return m.GetCmdMock()
}

func (m *MockHelper) GetArgs() []string {
	if m.GetArgsMock == nil {
		return nil
	}
	return m.GetArgsMock()
}

func (m *MockHelper) GetStreams() *iostreams.IOStreams {
	return m.GetStreamsMock()
}

func (m *MockHelper) GetConfig() (config.Hook, error) {
	return m.GetConfigMock()
}

func (m *MockHelper) GetOutputFormat() (common.OutputFormat, error) {
	if m.GetOutputFormatMock == nil {
		return common.TEXT, nil
	}
	return m.GetOutputFormatMock()
}

func (m *MockHelper) GetColorMode() (common.ColorMode, error) {
	if m.GetColorModeMock == nil {
		return common.ColorModeNever, nil
	}
	return m.GetColorModeMock()
}

func (m *MockHelper) GetPalette() theme.Palette {
	if m.GetPaletteMock == nil {
		p, _ := theme.Get(theme.DefaultName)
		return p
	}
	return m.GetPaletteMock()
}

func (m *MockHelper) GetLogger() (*slog.Logger, error) {
	if m.GetLoggerMock == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}
	return m.GetLoggerMock()
}

func (m *MockHelper) GetBuildInfo() (*build.Info, error) {
	if m.GetBuildInfoMock == nil {
		return &build.Info{Version: "dev", Commit: "unknown", Date: "unknown"}, nil
	}
	return m.GetBuildInfoMock()
}

func (m *MockHelper) GetContext() context.Context {
	if m.GetContextMock == nil {
		return context.Background()
	}
	return m.GetContextMock()
}

func (m *MockHelper) GetBackend(cfg config.Hook, logger *slog.Logger) (session.Backend, error) {
	return m.GetBackendMock(cfg, logger)
}
