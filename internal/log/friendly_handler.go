package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Keys rendered before the remaining attributes, in this order.
var leadingKeys = []string{"session_id", "status", "suggestion"}

// Keys that only make sense in the structured log file.
var fileOnlyKeys = map[string]bool{
	"log_type":     true,
	"request_id":   true,
	"command_path": true,
	"command_verb": true,
}

// NewFriendlyErrorHandler returns a slog.Handler that renders error records
// for a human reading the terminal:
//
//	Error: agent unexpected status
//	  session_id: s-1
//	  status: 503
//	  snippet: upstream unavailable
func NewFriendlyErrorHandler(w io.Writer) slog.Handler {
	return &friendlyHandler{w: w, mu: &sync.Mutex{}}
}

type friendlyHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

type attrEntry struct {
	key   string
	value string
}

func (h *friendlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *friendlyHandler) Handle(_ context.Context, record slog.Record) error {
	entries := h.collect(record)

	summary := strings.TrimSpace(record.Message)
	if summary == "" {
		summary = lookup(entries, "error")
	}
	if summary == "" {
		summary = "an unknown error occurred"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", summary)

	for _, key := range leadingKeys {
		if v := lookup(entries, key); v != "" {
			writeEntry(&sb, attrEntry{key: key, value: v})
		}
	}

	rest := slices.DeleteFunc(entries, func(e attrEntry) bool {
		return e.value == "" || fileOnlyKeys[e.key] || slices.Contains(leadingKeys, e.key) ||
			(e.key == "error" && e.value == summary)
	})
	slices.SortStableFunc(rest, func(a, b attrEntry) int { return strings.Compare(a.key, b.key) })
	for _, e := range rest {
		writeEntry(&sb, e)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *friendlyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clip(h.attrs), h.qualify(attrs)...)
	return &clone
}

func (h *friendlyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(slices.Clip(h.groups), name)
	return &clone
}

func (h *friendlyHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if len(h.groups) == 0 {
		return attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

func (h *friendlyHandler) collect(record slog.Record) []attrEntry {
	entries := make([]attrEntry, 0, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		entries = append(entries, attrEntry{key: a.Key, value: valueString(a.Value)})
	}

	var recordAttrs []slog.Attr
	record.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)
		return true
	})
	for _, a := range h.qualify(recordAttrs) {
		entries = append(entries, attrEntry{key: a.Key, value: valueString(a.Value)})
	}
	return entries
}

func lookup(entries []attrEntry, key string) string {
	for _, e := range entries {
		if e.key == key && e.value != "" {
			return e.value
		}
	}
	return ""
}

func valueString(val slog.Value) string {
	val = val.Resolve()
	switch val.Kind() {
	case slog.KindGroup:
		parts := make([]string, 0, len(val.Group()))
		for _, a := range val.Group() {
			parts = append(parts, fmt.Sprintf("%s=%s", a.Key, valueString(a.Value)))
		}
		return strings.Join(parts, ", ")
	case slog.KindAny:
		if err, ok := val.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(val.Any())
	default:
		return val.String()
	}
}

func writeEntry(sb *strings.Builder, entry attrEntry) {
	lines := strings.Split(strings.TrimSpace(entry.value), "\n")
	fmt.Fprintf(sb, "  %s: %s\n", entry.key, strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			fmt.Fprintf(sb, "    %s\n", trimmed)
		}
	}
}
