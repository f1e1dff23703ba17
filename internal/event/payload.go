package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Tool names that receive special handling.
const (
	ToolTodoWrite       = "TodoWrite"
	ToolBash            = "Bash"
	ToolAskUserQuestion = "AskUserQuestion"
)

// ReadyMarker is the system frame content the backend sends once the agent
// process is ready to accept input.
const ReadyMarker = "__agent_ready__"

// Usage carries token and cost accounting reported when a turn closes.
type Usage struct {
	InputTokens  int64   `json:"inputTokens,omitempty"  yaml:"inputTokens,omitempty"`
	OutputTokens int64   `json:"outputTokens,omitempty" yaml:"outputTokens,omitempty"`
	TotalTokens  int64   `json:"totalTokens,omitempty"  yaml:"totalTokens,omitempty"`
	CostUSD      float64 `json:"costUsd,omitempty"      yaml:"costUsd,omitempty"`
	DurationMs   int64   `json:"durationMs,omitempty"   yaml:"durationMs,omitempty"`
}

// IsZero reports whether no usage field is set.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
		CostUSD:      u.CostUSD + o.CostUSD,
		DurationMs:   u.DurationMs + o.DurationMs,
	}
}

// HistoryToolCall is a tool call replayed as part of a chat history entry.
type HistoryToolCall struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Result  *string         `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`
}

// HistoryPayload is a previously produced turn entry replayed by the backend.
// Chat entries use Role, run entries use Kind.
type HistoryPayload struct {
	ID        string            `json:"id"`
	Role      string            `json:"role,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []HistoryToolCall `json:"toolCalls,omitempty"`
	ToolName  string            `json:"toolName,omitempty"`
	ToolInput json.RawMessage   `json:"toolInput,omitempty"`
	ToolUseID string            `json:"toolUseId,omitempty"`
	IsError   bool              `json:"isError,omitempty"`
	Usage     *Usage            `json:"usage,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

// EntryKind returns the discriminant of the replayed entry.
func (p HistoryPayload) EntryKind() string {
	if k := strings.TrimSpace(p.Kind); k != "" {
		return k
	}
	return strings.TrimSpace(p.Role)
}

// TextPayload is one streamed fragment of assistant output.
type TextPayload struct {
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content"`
}

// UnmarshalJSON accepts either an object or a bare JSON string.
func (p *TextPayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = TextPayload{Content: s}
		return nil
	}
	type plain TextPayload
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = TextPayload(out)
	return nil
}

// ToolUsePayload announces a tool invocation.
type ToolUsePayload struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
	// Questions is set by agents that send the interactive question inline
	// instead of inside Input.
	Questions []Question `json:"questions,omitempty"`
}

// ToolResultPayload carries the output of the most recent tool invocation.
type ToolResultPayload struct {
	ToolUseID string `json:"toolUseId,omitempty"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// DonePayload closes the current turn.
type DonePayload struct {
	Usage
}

// ErrorPayload reports a turn level failure.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StatusPayload updates the transient status indicator and, optionally, the
// session status and the awaiting-input flag.
type StatusPayload struct {
	Status        string `json:"status,omitempty"`
	Message       string `json:"message,omitempty"`
	AwaitingInput *bool  `json:"awaitingInput,omitempty"`
}

// EpicProgressPayload is a full snapshot of multi-task progress.
type EpicProgressPayload struct {
	TotalTasks       int      `json:"totalTasks"`
	CurrentIndex     int      `json:"currentIndex"`
	TaskIDs          []string `json:"taskIds"`
	CompletedTaskIDs []string `json:"completedTaskIds"`
	FailedTaskIDs    []string `json:"failedTaskIds"`
}

// SystemPayload is a backend generated notice.
type SystemPayload struct {
	Content string `json:"content"`
}

// CompletionSignalPayload reports the final outcome of a run.
type CompletionSignalPayload struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// QuestionOption is one selectable answer of a Question.
type QuestionOption struct {
	Label       string `json:"label"                 yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Question is one entry of an interactive question tool call.
type Question struct {
	Question    string           `json:"question"              yaml:"question"`
	Header      string           `json:"header"                yaml:"header"`
	Options     []QuestionOption `json:"options,omitempty"     yaml:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect,omitempty" yaml:"multiSelect,omitempty"`
}

// QuestionInput is the input of the interactive question tool.
type QuestionInput struct {
	Questions []Question `json:"questions"`
}

// Todo item states.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoItem is one line of the todo-list tool payload.
type TodoItem struct {
	Content    string `json:"content"              yaml:"content"`
	Status     string `json:"status"               yaml:"status"`
	ActiveForm string `json:"activeForm,omitempty" yaml:"activeForm,omitempty"`
}

// TodoInput is the input of the todo-list tool. Each call carries the full list.
type TodoInput struct {
	Todos []TodoItem `json:"todos"`
}

// ShellInput is the input of the shell-command tool.
type ShellInput struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}
