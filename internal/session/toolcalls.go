package session

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kong/kaictl/internal/event"
)

// openCall is the pending slot opened by the most recent tool_use. A
// suppressed call never reaches the tool-call list and its result is dropped.
// For chat sessions entry and call locate the slot; they are -1 otherwise.
type openCall struct {
	id         string
	name       string
	suppressed bool
	entry      int
	call       int
}

func suppressedCall(id, name string) *openCall {
	return &openCall{id: id, name: name, suppressed: true, entry: -1, call: -1}
}

// ToolCallState is the display state of a tool call.
type ToolCallState string

const (
	ToolCallRunning   ToolCallState = "running"
	ToolCallCompleted ToolCallState = "completed"
	ToolCallFailed    ToolCallState = "failed"
	ToolCallAbandoned ToolCallState = "abandoned"
)

// ToolCallView is a tool call as the host should display it, regardless of
// whether the session stores calls inside entries or as paired entries.
type ToolCallView struct {
	ID      string          `json:"id"                yaml:"id"`
	Name    string          `json:"name"              yaml:"name"`
	Input   json.RawMessage `json:"input,omitempty"   yaml:"input,omitempty"`
	Result  *string         `json:"result,omitempty"  yaml:"result,omitempty"`
	IsError bool            `json:"isError,omitempty" yaml:"isError,omitempty"`
	State   ToolCallState   `json:"state"             yaml:"state"`
}

// ShellCommand is the display specialization of the shell-command tool.
type ShellCommand struct {
	ID          string `json:"id"                    yaml:"id"`
	Command     string `json:"command"               yaml:"command"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Result      string `json:"result,omitempty"      yaml:"result,omitempty"`
	IsError     bool   `json:"isError,omitempty"     yaml:"isError,omitempty"`
	IsRunning   bool   `json:"isRunning"             yaml:"isRunning"`
}

func (s Session) applyToolUse(f event.Frame) (Session, []Effect, error) {
	var p event.ToolUsePayload
	if err := f.Decode(&p); err != nil {
		return s, nil, err
	}
	if p.ID == "" {
		p.ID = fmt.Sprintf("tool-%d", s.toolUses)
	}
	s.toolUses++

	switch p.Name {
	case event.ToolAskUserQuestion:
		s.open = suppressedCall(p.ID, p.Name)
		s.Busy = true
		if s.PendingQuestion != nil {
			return s, nil, nil
		}
		var in event.QuestionInput
		if len(p.Input) > 0 {
			// A malformed question still pre-empts the turn; the host can skip it.
			_ = json.Unmarshal(p.Input, &in)
		}
		questions := in.Questions
		if len(questions) == 0 {
			questions = p.Questions
		}
		s.PendingQuestion = &PendingQuestion{ToolUseID: p.ID, Questions: slices.Clone(questions)}
		return s, []Effect{EffectCancelTurn}, nil

	case event.ToolTodoWrite:
		s.open = suppressedCall(p.ID, p.Name)
		s.Busy = true
		var in event.TodoInput
		if err := json.Unmarshal(p.Input, &in); err != nil {
			return s, nil, fmt.Errorf("decode todo list: %w", err)
		}
		s.Todos = slices.Clone(in.Todos)
		return s, nil, nil
	}

	s.open = &openCall{id: p.ID, name: p.Name, entry: -1, call: -1}
	s.Busy = true
	if s.IsRun() {
		s = s.closeStreaming(nil)
		s.Entries = appendEntry(s.Entries, Entry{
			ID:        p.ID,
			Kind:      EntryToolUse,
			ToolUseID: p.ID,
			ToolName:  p.Name,
			ToolInput: p.Input,
			CreatedAt: f.ReceivedAt,
		})
		return s, nil, nil
	}

	call := ToolCall{ID: p.ID, Name: p.Name, Input: p.Input}
	if i := s.streamingIndex(); i >= 0 {
		e := s.Entries[i]
		e.ToolCalls = append(slices.Clip(e.ToolCalls), call)
		s.Entries = replaceEntry(s.Entries, i, e)
		s.open.entry, s.open.call = i, len(e.ToolCalls)-1
		return s, nil, nil
	}
	s.open.entry, s.open.call = len(s.Entries), 0
	s.Entries = appendEntry(s.Entries, Entry{
		ID:          "assistant-" + p.ID,
		Kind:        EntryAssistant,
		ToolCalls:   []ToolCall{call},
		IsStreaming: true,
		CreatedAt:   f.ReceivedAt,
	})
	return s, nil, nil
}

func (s Session) applyToolResult(f event.Frame) (Session, error) {
	var p event.ToolResultPayload
	if err := f.Decode(&p); err != nil {
		return s, err
	}

	open := s.open
	s.open = nil

	if open != nil && open.suppressed {
		return s, nil
	}

	if s.IsRun() {
		useID := p.ToolUseID
		if open != nil {
			useID = open.id
		}
		s = s.closeStreaming(nil)
		s.Entries = appendEntry(s.Entries, Entry{
			ID:        resultEntryID(f, useID, len(s.Entries)),
			Kind:      EntryToolResult,
			Content:   p.Content,
			ToolUseID: useID,
			IsError:   p.IsError,
			CreatedAt: f.ReceivedAt,
		})
		return s, nil
	}

	if open == nil {
		return s, nil
	}
	i, j, ok := s.locateCall(open)
	if !ok {
		return s, nil
	}
	e := s.Entries[i]
	calls := slices.Clone(e.ToolCalls)
	result := p.Content
	calls[j].Result = &result
	calls[j].IsError = p.IsError
	e.ToolCalls = calls
	s.Entries = replaceEntry(s.Entries, i, e)
	return s, nil
}

// locateCall finds the chat tool call open refers to. The recorded position
// wins while it still holds the call; otherwise the newest call with the
// same id is used.
func (s Session) locateCall(open *openCall) (entry, call int, ok bool) {
	if open.entry >= 0 && open.entry < len(s.Entries) {
		calls := s.Entries[open.entry].ToolCalls
		if open.call >= 0 && open.call < len(calls) && calls[open.call].ID == open.id {
			return open.entry, open.call, true
		}
	}
	for i := len(s.Entries) - 1; i >= 0; i-- {
		calls := s.Entries[i].ToolCalls
		for j := len(calls) - 1; j >= 0; j-- {
			if calls[j].ID == open.id {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func resultEntryID(f event.Frame, useID string, n int) string {
	if f.ID != "" {
		return f.ID
	}
	if useID != "" {
		return useID + "-result"
	}
	return fmt.Sprintf("result-%d", n)
}

// ToolCalls returns the generic tool-call list in stream order. Calls of the
// todo-list and interactive-question tools never appear here.
func (s Session) ToolCalls() []ToolCallView {
	producing := s.Producing()
	var views []ToolCallView

	if !s.IsRun() {
		for _, e := range s.Entries {
			for _, c := range e.ToolCalls {
				views = append(views, newToolCallView(c.ID, c.Name, c.Input, c.Result, c.IsError, producing))
			}
		}
		return views
	}

	results := make(map[string]Entry)
	for _, e := range s.Entries {
		if e.Kind == EntryToolResult && e.ToolUseID != "" {
			if _, seen := results[e.ToolUseID]; !seen {
				results[e.ToolUseID] = e
			}
		}
	}
	for _, e := range s.Entries {
		if e.Kind != EntryToolUse {
			continue
		}
		var (
			result  *string
			isError bool
		)
		if r, ok := results[e.ToolUseID]; ok {
			content := r.Content
			result = &content
			isError = r.IsError
		}
		views = append(views, newToolCallView(e.ToolUseID, e.ToolName, e.ToolInput, result, isError, producing))
	}
	return views
}

func newToolCallView(id, name string, input json.RawMessage, result *string, isError, producing bool) ToolCallView {
	v := ToolCallView{
		ID:      id,
		Name:    name,
		Input:   input,
		Result:  result,
		IsError: isError,
	}
	switch {
	case result != nil && isError:
		v.State = ToolCallFailed
	case result != nil:
		v.State = ToolCallCompleted
	case producing:
		v.State = ToolCallRunning
	default:
		v.State = ToolCallAbandoned
	}
	return v
}

// ShellCommands returns the shell-command tool calls as first-class records.
func (s Session) ShellCommands() []ShellCommand {
	var out []ShellCommand
	for _, v := range s.ToolCalls() {
		if v.Name != event.ToolBash {
			continue
		}
		var in event.ShellInput
		if len(v.Input) > 0 {
			_ = json.Unmarshal(v.Input, &in)
		}
		cmd := ShellCommand{
			ID:          v.ID,
			Command:     in.Command,
			Description: in.Description,
			IsError:     v.IsError,
			IsRunning:   v.State == ToolCallRunning,
		}
		if v.Result != nil {
			cmd.Result = *v.Result
		}
		out = append(out, cmd)
	}
	return out
}
