package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kong/kaictl/internal/event"
)

const defaultScannerCapacity = 1024 * 1024 // 1 MiB buffer for large SSE payloads

// decodeSSE reads server-sent events from r and hands each one to onFrame as
// a parsed frame. It returns when r is exhausted, ctx is done or onFrame fails.
func decodeSSE(ctx context.Context, r io.Reader, now func() time.Time, onFrame func(event.Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScannerCapacity)

	var (
		eventName string
		id        string
		dataLines []string
		sawData   bool
	)

	flush := func() error {
		if eventName == "" && !sawData {
			return nil
		}
		f := event.Parse(eventName, id, []byte(strings.Join(dataLines, "\n")), now())
		eventName = ""
		id = ""
		dataLines = dataLines[:0]
		sawData = false

		if f.Type == "" {
			f.Type = "message"
		}
		return onFrame(f)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = strings.TrimSpace(value)
		case "data":
			dataLines = append(dataLines, value)
			sawData = true
		case "id":
			id = strings.TrimSpace(value)
		case "retry":
			// reconnection timing is owned by the session controller
		default:
			dataLines = append(dataLines, line)
			sawData = true
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read session stream: %w", err)
	}
	return flush()
}
