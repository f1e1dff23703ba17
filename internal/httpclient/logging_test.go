package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/kong/kaictl/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func parseJSONLogs(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func mustFindLogByType(t *testing.T, entries []map[string]any, logType string) map[string]any {
	t.Helper()
	for _, e := range entries {
		if e["log_type"] == logType {
			return e
		}
	}
	t.Fatalf("no %s log entry in %v", logType, entries)
	return nil
}

func newLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func echoDoer(t *testing.T, status int, contentType, body string) doerFunc {
	return func(req *http.Request) (*http.Response, error) {
		if req.Body != nil {
			// the wrapped client must still see the full request body
			got, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.NotEmpty(t, got)
		}
		resp := &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(body)),
		}
		resp.Header.Set("Content-Type", contentType)
		resp.Header.Set("Set-Cookie", "session=abc")
		return resp, nil
	}
}

func TestLoggingHTTPClientDebug(t *testing.T) {
	var buf bytes.Buffer
	client := NewLoggingHTTPClientWithClient(
		echoDoer(t, http.StatusAccepted, "application/json", `{"ok":true}`),
		newLogger(&buf, slog.LevelDebug))

	ctx := log.WithHTTPLogContext(context.Background(), log.HTTPLogContext{
		CommandPath: "kaictl chat",
		SessionID:   "s-1",
		Operation:   "send_message",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://agent.example.com/v1/sessions/s-1/messages?trace=1&access_token=abc",
		strings.NewReader(`{"id":"m-1","text":"hi"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	entries := parseJSONLogs(t, &buf)
	require.Len(t, entries, 2)

	reqLog := mustFindLogByType(t, entries, logTypeRequest)
	assert.Equal(t, "/v1/sessions/s-1/messages", reqLog["route"])
	assert.Equal(t, "agent.example.com", reqLog["host"])
	assert.Equal(t, "s-1", reqLog["session_id"])
	assert.Equal(t, "send_message", reqLog["operation"])
	assert.Equal(t, "kaictl chat", reqLog["command_path"])
	params, ok := reqLog["query_params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", params["trace"])
	assert.Equal(t, redactedValue, params["access_token"])
	assert.NotContains(t, reqLog, "request_body")
	assert.NotContains(t, reqLog, "request_headers")

	respLog := mustFindLogByType(t, entries, logTypeResponse)
	assert.Equal(t, reqLog["request_id"], respLog["request_id"])
	assert.EqualValues(t, http.StatusAccepted, respLog["status_code"])
	assert.NotContains(t, respLog, "response_body")
}

func TestLoggingHTTPClientTrace(t *testing.T) {
	var buf bytes.Buffer
	client := NewLoggingHTTPClientWithClient(
		echoDoer(t, http.StatusCreated, "application/json", `{"sessionId":"s-1","token":"server-secret"}`),
		newLogger(&buf, log.LevelTrace))

	req, err := http.NewRequest(http.MethodPost, "https://agent.example.com/v1/sessions",
		strings.NewReader(`{"kind":"chat","auth":{"password":"hunter2"}}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")

	_, err = client.Do(req)
	require.NoError(t, err)

	entries := parseJSONLogs(t, &buf)

	reqLog := mustFindLogByType(t, entries, logTypeRequest)
	headers, ok := reqLog["request_headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedValue, headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
	assert.JSONEq(t, `{"kind":"chat","auth":{"password":"[REDACTED]"}}`, reqLog["request_body"].(string))

	respLog := mustFindLogByType(t, entries, logTypeResponse)
	respHeaders, ok := respLog["response_headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedValue, respHeaders["Set-Cookie"])
	assert.JSONEq(t, `{"sessionId":"s-1","token":"[REDACTED]"}`, respLog["response_body"].(string))
}

func TestLoggingHTTPClientSkipsEventStreamBody(t *testing.T) {
	var buf bytes.Buffer
	client := NewLoggingHTTPClientWithClient(
		echoDoer(t, http.StatusOK, "text/event-stream; charset=utf-8", "event: connected\ndata: {}\n\n"),
		newLogger(&buf, log.LevelTrace))

	req, err := http.NewRequest(http.MethodGet, "https://agent.example.com/v1/sessions/s-1/stream", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)

	respLog := mustFindLogByType(t, parseJSONLogs(t, &buf), logTypeResponse)
	assert.NotContains(t, respLog, "response_body")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "event: connected\ndata: {}\n\n", string(body))
}

func TestLoggingHTTPClientSilentBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	client := NewLoggingHTTPClientWithClient(
		echoDoer(t, http.StatusOK, "application/json", `{}`),
		newLogger(&buf, slog.LevelInfo))

	req, err := http.NewRequest(http.MethodGet, "https://agent.example.com/v1/sessions/s-1/stream", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
}

func TestLoggingHTTPClientLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	client := NewLoggingHTTPClientWithClient(doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}), newLogger(&buf, slog.LevelDebug))

	req, err := http.NewRequest(http.MethodPost, "https://agent.example.com/v1/sessions/s-1/cancel", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	respLog := mustFindLogByType(t, parseJSONLogs(t, &buf), logTypeResponse)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), respLog["error"])
}

func TestRedactBodyTruncates(t *testing.T) {
	long := strings.Repeat("x", maxLoggedBody+10)
	out := redactBody([]byte(long))
	assert.True(t, strings.HasSuffix(out, "[truncated, total 4106 bytes]"))
}
