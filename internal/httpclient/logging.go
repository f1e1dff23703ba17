package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kong/kaictl/internal/log"
)

const (
	logTypeRequest  = "http_request"
	logTypeResponse = "http_response"
	redactedValue   = "[REDACTED]"

	maxLoggedBody = 4096
)

var sensitiveKeys = []string{
	"authorization",
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"x-api-key",
	"cookie",
	"credential",
}

// Doer is the subset of *http.Client wrapped by LoggingHTTPClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LoggingHTTPClient wraps an HTTP client and logs every exchange at debug
// level. At trace level request and response bodies are logged too, with
// sensitive fields redacted. Event stream bodies are never read.
type LoggingHTTPClient struct {
	wrapped Doer
	logger  *slog.Logger
}

// NewLoggingHTTPClient creates a logging client with the given overall timeout.
// A zero timeout suits long lived streams.
func NewLoggingHTTPClient(logger *slog.Logger, timeout time.Duration) *LoggingHTTPClient {
	return &LoggingHTTPClient{
		wrapped: &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// NewLoggingHTTPClientWithClient wraps an existing HTTP client.
func NewLoggingHTTPClientWithClient(client Doer, logger *slog.Logger) *LoggingHTTPClient {
	return &LoggingHTTPClient{
		wrapped: client,
		logger:  logger,
	}
}

// Do implements Doer with logging.
func (c *LoggingHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.logger == nil || !c.logger.Enabled(ctx, slog.LevelDebug) {
		return c.wrapped.Do(req)
	}
	trace := c.logger.Enabled(ctx, log.LevelTrace)

	requestID := uuid.NewString()
	start := time.Now()

	c.logRequest(req, requestID, trace)

	resp, err := c.wrapped.Do(req)
	duration := time.Since(start)
	if err != nil {
		attrs := append(c.baseAttrs(req, logTypeResponse, requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		c.logger.LogAttrs(ctx, slog.LevelDebug, "HTTP request failed", attrs...)
		return nil, err
	}

	c.logResponse(req, resp, requestID, duration, trace)
	return resp, nil
}

func (c *LoggingHTTPClient) baseAttrs(req *http.Request, logType, requestID string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("log_type", logType),
		slog.String("request_id", requestID),
		slog.String("method", req.Method),
		slog.String("host", req.URL.Host),
		slog.String("route", req.URL.Path),
	}
	return append(attrs, log.HTTPLogContextAttrs(req.Context())...)
}

func (c *LoggingHTTPClient) logRequest(req *http.Request, requestID string, trace bool) {
	attrs := c.baseAttrs(req, logTypeRequest, requestID)

	if query := req.URL.Query(); len(query) > 0 {
		params := make(map[string]string, len(query))
		for k, v := range query {
			if isSensitive(k) {
				params[k] = redactedValue
				continue
			}
			params[k] = strings.Join(v, ",")
		}
		attrs = append(attrs, slog.Any("query_params", params))
	}

	if trace {
		attrs = append(attrs, slog.Any("request_headers", redactHeaders(req.Header)))
		if body, ok := peekRequestBody(req); ok {
			attrs = append(attrs, slog.String("request_body", redactBody(body)))
		}
	}

	c.logger.LogAttrs(req.Context(), slog.LevelDebug, "HTTP request", attrs...)
}

func (c *LoggingHTTPClient) logResponse(
	req *http.Request,
	resp *http.Response,
	requestID string,
	duration time.Duration,
	trace bool,
) {
	attrs := append(c.baseAttrs(req, logTypeResponse, requestID),
		slog.Int("status_code", resp.StatusCode),
		slog.String("status", resp.Status),
		slog.Duration("duration", duration))

	if resp.ContentLength > 0 {
		attrs = append(attrs, slog.Int64("content_length", resp.ContentLength))
	}

	if trace {
		attrs = append(attrs, slog.Any("response_headers", redactHeaders(resp.Header)))
		if !isEventStream(resp.Header) {
			if body, ok := peekResponseBody(resp); ok {
				attrs = append(attrs, slog.String("response_body", redactBody(body)))
			}
		}
	}

	c.logger.LogAttrs(req.Context(), slog.LevelDebug, "HTTP response", attrs...)
}

func peekRequestBody(req *http.Request) ([]byte, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, false
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return nil, false
	}
	return body, true
}

// peekResponseBody reads the response body without consuming it.
func peekResponseBody(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return nil, false
	}
	return body, true
}

func isEventStream(h http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if isSensitive(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// redactBody masks sensitive fields of a JSON body. Other bodies are logged
// as is, truncated.
func redactBody(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err == nil {
		if redacted, err := json.Marshal(redactValue(doc)); err == nil {
			body = redacted
		}
	}
	if len(body) > maxLoggedBody {
		return fmt.Sprintf("%s... [truncated, total %d bytes]", body[:maxLoggedBody], len(body))
	}
	return string(body)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if isSensitive(k) {
				val[k] = redactedValue
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = redactValue(inner)
		}
		return val
	}
	return v
}
