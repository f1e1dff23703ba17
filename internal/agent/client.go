package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kong/kaictl/internal/event"
	applog "github.com/kong/kaictl/internal/log"
	"github.com/kong/kaictl/internal/meta"
	"github.com/kong/kaictl/internal/session"
)

const (
	sessionsPathSegment = "v1/sessions"

	// DefaultRequestTimeout bounds every command call. Streams are not bounded.
	DefaultRequestTimeout = 30 * time.Second
)

var _ session.Backend = (*Client)(nil)

// Doer executes HTTP requests. *http.Client and the logging client both
// satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the agent service over HTTP. Commands are plain JSON
// calls; the session stream is consumed as server-sent events.
type Client struct {
	baseURL        string
	token          string
	http           Doer
	stream         Doer
	requestTimeout time.Duration
	now            func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for command calls. It is also used for
// streams unless WithStreamClient is given.
func WithHTTPClient(d Doer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithStreamClient sets the client used to open session streams. It must not
// impose an overall timeout.
func WithStreamClient(d Doer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.stream = d
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// NewClient returns a client for the agent service at baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("agent base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid agent base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid agent base URL %q: scheme must be http or https", baseURL)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("agent token is required")
	}

	c := &Client{
		baseURL:        baseURL,
		token:          token,
		http:           http.DefaultClient,
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stream == nil {
		c.stream = c.http
	}
	return c, nil
}

// CreateSession creates a chat session or an autonomous run.
func (c *Client) CreateSession(ctx context.Context, req event.CreateRequest) (event.CreateResponse, error) {
	var resp event.CreateResponse
	ctx = applog.WithHTTPLogContext(ctx, applog.HTTPLogContext{
		SessionKind: string(req.Kind),
		Operation:   "create_session",
	})

	endpoint, err := url.JoinPath(c.baseURL, sessionsPathSegment)
	if err != nil {
		return resp, fmt.Errorf("failed to construct sessions endpoint: %w", err)
	}

	logDebug(ctx, "agent create session request",
		slog.String("endpoint", endpoint),
		slog.String("kind", string(req.Kind)))

	body, err := c.call(ctx, endpoint, req)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("failed to decode session response: %w", err)
	}

	logInfo(ctx, "agent session created",
		slog.String("session_id", resp.SessionID),
		slog.String("kind", string(req.Kind)))
	return resp, nil
}

// SendMessage posts a follow-up message. Its effect arrives on the stream.
func (c *Client) SendMessage(ctx context.Context, sessionID string, msg event.OutgoingMessage) error {
	ctx = withSessionLogContext(ctx, sessionID, "send_message")
	endpoint, err := c.sessionPath(sessionID, "messages")
	if err != nil {
		return err
	}
	logDebug(ctx, "agent send message request",
		slog.String("session_id", sessionID),
		slog.String("message_id", msg.ID),
		slog.Int("text_length", len(msg.Text)))
	_, err = c.call(ctx, endpoint, msg)
	return err
}

// CancelTurn asks the agent to abandon the turn in progress.
func (c *Client) CancelTurn(ctx context.Context, sessionID string) error {
	ctx = withSessionLogContext(ctx, sessionID, "cancel_turn")
	endpoint, err := c.sessionPath(sessionID, "cancel")
	if err != nil {
		return err
	}
	logDebug(ctx, "agent cancel turn request", slog.String("session_id", sessionID))
	_, err = c.call(ctx, endpoint, nil)
	return err
}

// StopSession ends the session.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	ctx = withSessionLogContext(ctx, sessionID, "stop_session")
	endpoint, err := c.sessionPath(sessionID, "stop")
	if err != nil {
		return err
	}
	logDebug(ctx, "agent stop session request", slog.String("session_id", sessionID))
	_, err = c.call(ctx, endpoint, nil)
	return err
}

// OpenStream opens the push stream of a session. Frames are delivered in
// arrival order until the server closes the stream, ctx is cancelled or the
// stream is closed.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*event.Stream, error) {
	ctx = withSessionLogContext(ctx, sessionID, "open_stream")
	endpoint, err := c.sessionPath(sessionID, "stream")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	logDebug(ctx, "agent stream request",
		slog.String("endpoint", endpoint),
		slog.String("session_id", sessionID))

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		err = wrapIfTransient(err)
		logError(ctx, "agent stream request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to open session stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		return nil, statusError(ctx, endpoint, resp)
	}

	logDebug(ctx, "agent stream established",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode))

	frames := make(chan event.Frame)
	errCh := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(frames)
		defer close(errCh)

		err := decodeSSE(ctx, resp.Body, c.now, func(f event.Frame) error {
			logTrace(ctx, "agent stream frame",
				slog.String("type", f.Type.String()),
				slog.String("id", f.ID))
			if f.Type == event.TypeHeartbeat {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frames <- f:
				return nil
			}
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				errCh <- ctxErr
				return
			}
			err = wrapIfTransient(err)
			if !errors.Is(err, context.Canceled) {
				logError(ctx, "agent stream error",
					slog.String("endpoint", endpoint),
					slog.String("error", err.Error()))
			}
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return event.NewStream(frames, errCh, cancel), nil
}

func withSessionLogContext(ctx context.Context, sessionID, operation string) context.Context {
	return applog.WithHTTPLogContext(ctx, applog.HTTPLogContext{
		SessionID: sessionID,
		Operation: operation,
	})
}

func (c *Client) sessionPath(sessionID string, segments ...string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("sessionID cannot be empty")
	}
	parts := append([]string{sessionsPathSegment, sessionID}, segments...)
	endpoint, err := url.JoinPath(c.baseURL, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to construct session endpoint: %w", err)
	}
	return endpoint, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", meta.CLIName)
}

// call POSTs payload as JSON and returns the response body of a 2xx answer.
func (c *Client) call(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = wrapIfTransient(err)
		logError(ctx, "agent request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(ctx, endpoint, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", wrapIfTransient(err))
	}
	return data, nil
}

func statusError(ctx context.Context, endpoint string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	text := strings.TrimSpace(string(snippet))

	var problem struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(snippet, &problem); err == nil {
		if d := strings.TrimSpace(problem.Detail); d != "" {
			text = d
		} else if t := strings.TrimSpace(problem.Title); t != "" {
			text = t
		}
	}

	logError(ctx, "agent unexpected status",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.String("snippet", truncateSnippet(text, 512)))

	return &StatusError{
		StatusCode: resp.StatusCode,
		Endpoint:   endpoint,
		Body:       text,
	}
}

func truncateSnippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
