package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kong/kaictl/internal/event"
	"github.com/stretchr/testify/require"
)

func collectSSE(t *testing.T, body string) []event.Frame {
	t.Helper()
	var frames []event.Frame
	now := func() time.Time { return time.Unix(1700000000, 0) }
	err := decodeSSE(context.Background(), strings.NewReader(body), now, func(f event.Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	return frames
}

func TestDecodeSSE(t *testing.T) {
	require := require.New(t)

	frames := collectSSE(t, strings.Join([]string{
		": comment",
		"retry: 3000",
		"event: system",
		`data: {"content":`,
		`data: "multi line"}`,
		"",
		"event: text",
		"data: plain words",
		"",
		"",
		"data: {\"content\":\"no name\"}",
		"",
		"event: done",
	}, "\n"))

	require.Len(frames, 4)

	require.Equal(event.TypeSystem, frames[0].Type)
	var system event.SystemPayload
	require.NoError(frames[0].Decode(&system))
	require.Equal("multi line", system.Content)

	var text event.TextPayload
	require.NoError(frames[1].Decode(&text))
	require.Equal("plain words", text.Content)

	require.Equal(event.Type("message"), frames[2].Type)
	require.False(frames[2].Type.Known())

	require.Equal(event.TypeDone, frames[3].Type)
	require.True(frames[3].Empty())
	require.Equal(time.Unix(1700000000, 0), frames[3].ReceivedAt)
}

func TestDecodeSSEStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := decodeSSE(context.Background(), strings.NewReader("event: a\n\nevent: b\n\n"), time.Now,
		func(event.Frame) error {
			calls++
			return stop
		})

	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestDecodeSSEHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := decodeSSE(ctx, strings.NewReader("event: a\n\n"), time.Now, func(event.Frame) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
