package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kong/kaictl/internal/agent"
	"github.com/kong/kaictl/internal/config"
	"github.com/kong/kaictl/internal/httpclient"
	"github.com/kong/kaictl/internal/session"
)

// A function that can build a session backend with a given configuration
type BackendFactory func(cfg config.Hook, logger *slog.Logger) (session.Backend, error)

type backendKey struct{}

// A Key used to store the BackendFactory in a Context
var BackendFactoryKey = backendKey{}

// DefaultBackendFactory overrides AgentBackendFactory when set. Tests use it
// to point commands at a fake backend.
var DefaultBackendFactory BackendFactory

// GetBackendFactory returns the factory to use, checking for test overrides
func GetBackendFactory() BackendFactory {
	if DefaultBackendFactory != nil {
		return DefaultBackendFactory
	}
	return AgentBackendFactory
}

// AgentBackendFactory builds an HTTP client for the agent service. Commands
// share a request-bounded client; streams get one without an overall timeout.
func AgentBackendFactory(cfg config.Hook, logger *slog.Logger) (session.Backend, error) {
	baseURL := strings.TrimSpace(cfg.GetString(config.AgentBaseURLConfigPath))
	if baseURL == "" {
		return nil, fmt.Errorf("no agent base URL configured, set %s or pass --base-url", config.AgentBaseURLConfigPath)
	}
	token := strings.TrimSpace(cfg.GetString(config.AgentTokenConfigPath))
	if token == "" {
		return nil, fmt.Errorf(
			"no agent token available, set %s, export %s_AGENT_TOKEN or pass --token",
			config.AgentTokenConfigPath,
			config.ProfileEnvPrefix(cfg.GetProfile()),
		)
	}

	timeout := cfg.GetDurationOrElse(config.AgentRequestTimeoutConfigPath, config.DefaultRequestTimeout)

	client, err := agent.NewClient(baseURL, token,
		agent.WithHTTPClient(httpclient.NewLoggingHTTPClient(logger, 0)),
		agent.WithStreamClient(httpclient.NewLoggingHTTPClient(logger, 0)),
		agent.WithRequestTimeout(timeout),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}
