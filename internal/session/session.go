package session

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/kong/kaictl/internal/event"
)

// EntryKind is the discriminant of a turn entry.
type EntryKind string

// Chat entry kinds.
const (
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
	EntrySystem    EntryKind = "system"
)

// Run entry kinds.
const (
	EntryText             EntryKind = "text"
	EntryToolUse          EntryKind = "tool_use"
	EntryToolResult       EntryKind = "tool_result"
	EntryStatus           EntryKind = "status"
	EntryError            EntryKind = "error"
	EntryCompletionSignal EntryKind = "completion_signal"
)

// ToolCall is a tool invocation owned by a chat entry. Result is nil until
// the pairing tool_result arrives.
type ToolCall struct {
	ID      string          `json:"id"                yaml:"id"`
	Name    string          `json:"name"              yaml:"name"`
	Input   json.RawMessage `json:"input,omitempty"   yaml:"input,omitempty"`
	Result  *string         `json:"result,omitempty"  yaml:"result,omitempty"`
	IsError bool            `json:"isError,omitempty" yaml:"isError,omitempty"`
}

// Resolved reports whether a result has been paired with the call.
func (c ToolCall) Resolved() bool {
	return c.Result != nil
}

// Entry is one chat message or run event. Only the streaming entry is ever
// replaced after it was appended.
type Entry struct {
	ID          string          `json:"id"                    yaml:"id"`
	Kind        EntryKind       `json:"kind"                  yaml:"kind"`
	Content     string          `json:"content,omitempty"     yaml:"content,omitempty"`
	ToolCalls   []ToolCall      `json:"toolCalls,omitempty"   yaml:"toolCalls,omitempty"`
	ToolUseID   string          `json:"toolUseId,omitempty"   yaml:"toolUseId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"    yaml:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"   yaml:"toolInput,omitempty"`
	IsError     bool            `json:"isError,omitempty"     yaml:"isError,omitempty"`
	IsStreaming bool            `json:"isStreaming,omitempty" yaml:"isStreaming,omitempty"`
	Usage       *event.Usage    `json:"usage,omitempty"       yaml:"usage,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitzero"    yaml:"createdAt,omitempty"`
}

// PendingQuestion is an intercepted interactive question awaiting the host.
type PendingQuestion struct {
	ToolUseID string           `json:"toolUseId,omitempty" yaml:"toolUseId,omitempty"`
	Questions []event.Question `json:"questions"           yaml:"questions"`
}

// Session is an immutable snapshot of one logical conversation or run.
// Values handed to callers are never modified; every change produces a new
// snapshot that shares unchanged data with the previous one.
type Session struct {
	ID                string     `json:"id,omitempty"      yaml:"id,omitempty"`
	Kind              event.Kind `json:"kind"              yaml:"kind"`
	Mode              string     `json:"mode,omitempty"    yaml:"mode,omitempty"`
	Status            Status     `json:"status"            yaml:"status"`
	AwaitingUserInput bool       `json:"awaitingUserInput" yaml:"awaitingUserInput"`
	CreatedAt         time.Time  `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`

	Entries []Entry `json:"entries" yaml:"entries"`

	Disconnected bool   `json:"disconnected"         yaml:"disconnected"`
	Reconnecting bool   `json:"reconnecting"         yaml:"reconnecting"`
	Ready        bool   `json:"ready"                yaml:"ready"`
	AuthExpired  bool   `json:"authExpired"          yaml:"authExpired"`
	Busy         bool   `json:"busy"                 yaml:"busy"`
	LastError    string `json:"lastError,omitempty"  yaml:"lastError,omitempty"`
	StatusText   string `json:"statusText,omitempty" yaml:"statusText,omitempty"`

	Totals          event.Usage      `json:"totals"                    yaml:"totals"`
	Todos           []event.TodoItem `json:"todos,omitempty"           yaml:"todos,omitempty"`
	PendingQuestion *PendingQuestion `json:"pendingQuestion,omitempty" yaml:"pendingQuestion,omitempty"`
	Epic            *EpicSequence    `json:"epic,omitempty"            yaml:"epic,omitempty"`

	// open is the tool invocation awaiting its result, if any.
	open *openCall
	// toolUses counts tool_use frames and numbers the ones without an id.
	toolUses int
}

// New returns an empty queued session of the given kind.
func New(kind event.Kind, mode string) Session {
	return Session{
		Kind:   kind,
		Mode:   mode,
		Status: StatusQueued,
	}
}

// IsRun reports whether the session is an autonomous run.
func (s Session) IsRun() bool {
	return s.Kind == event.KindAutonomousRun
}

// Producing reports whether the session is actively producing output. An
// interactive session produces while a reply is in flight; a run produces
// while it is running.
func (s Session) Producing() bool {
	if s.Status.IsTerminal() || s.AuthExpired {
		return false
	}
	if s.IsRun() {
		return s.Status == StatusRunning
	}
	return s.Busy
}

// Entry returns the entry with the given id.
func (s Session) Entry(id string) (Entry, bool) {
	if i := s.entryIndex(id); i >= 0 {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// Streaming returns the entry currently being streamed, if any.
func (s Session) Streaming() (Entry, bool) {
	if i := s.streamingIndex(); i >= 0 {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// LastUserMessage returns the content of the most recent user entry.
func (s Session) LastUserMessage() (string, bool) {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].Kind == EntryUser {
			return s.Entries[i].Content, true
		}
	}
	return "", false
}

func (s Session) entryIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Session) streamingIndex() int {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].IsStreaming {
			return i
		}
	}
	return -1
}

// appendEntry returns a new slice; the backing array of entries is never
// written past its length.
func appendEntry(entries []Entry, e Entry) []Entry {
	return append(slices.Clip(entries), e)
}

func replaceEntry(entries []Entry, i int, e Entry) []Entry {
	out := slices.Clone(entries)
	out[i] = e
	return out
}

func removeEntry(entries []Entry, id string) []Entry {
	return slices.DeleteFunc(slices.Clone(entries), func(e Entry) bool {
		return e.ID == id
	})
}

// closeStreaming marks the streaming entry, if any, as complete.
func (s Session) closeStreaming(usage *event.Usage) Session {
	i := s.streamingIndex()
	if i < 0 {
		return s
	}
	e := s.Entries[i]
	e.IsStreaming = false
	if usage != nil && !usage.IsZero() {
		u := *usage
		e.Usage = &u
	}
	s.Entries = replaceEntry(s.Entries, i, e)
	return s
}
