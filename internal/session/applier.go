package session

import (
	"fmt"
	"strings"

	"github.com/kong/kaictl/internal/event"
)

// Effect is a side effect requested by the reducer and carried out by the
// controller.
type Effect int

const (
	// EffectCancelTurn cancels the turn in flight on the backend.
	EffectCancelTurn Effect = iota + 1
	// EffectCloseStream closes the push connection without reconnecting.
	EffectCloseStream
)

func (e Effect) String() string {
	switch e {
	case EffectCancelTurn:
		return "cancel_turn"
	case EffectCloseStream:
		return "close_stream"
	}
	return fmt.Sprintf("effect(%d)", int(e))
}

// Apply applies one frame to s and returns the next snapshot along with any
// effects the caller must carry out. Malformed frames leave s unchanged.
func Apply(s Session, f event.Frame) (Session, []Effect) {
	next, effects, _ := Reduce(s, f)
	return next, effects
}

// Reduce is Apply with the payload decoding error, if any, reported.
func Reduce(s Session, f event.Frame) (Session, []Effect, error) {
	switch f.Type {
	case event.TypeConnected:
		s.Disconnected = false
		s.Reconnecting = false
		if s.Status == StatusQueued {
			s = s.transition(StatusRunning)
		}
		return s, nil, nil

	case event.TypeHistory:
		next, err := s.applyHistory(f)
		return next, nil, err

	case event.TypeText:
		next, err := s.applyText(f)
		return next, nil, err

	case event.TypeToolUse:
		return s.applyToolUse(f)

	case event.TypeToolResult:
		next, err := s.applyToolResult(f)
		return next, nil, err

	case event.TypeDone:
		var p event.DonePayload
		if !f.Empty() {
			if err := f.Decode(&p); err != nil {
				return s, nil, err
			}
		}
		s = s.closeStreaming(&p.Usage)
		s.Totals = s.Totals.Add(p.Usage)
		s.Busy = false
		s.StatusText = ""
		return s, nil, nil

	case event.TypeError:
		var p event.ErrorPayload
		if !f.Empty() {
			if err := f.Decode(&p); err != nil {
				return s, nil, err
			}
		}
		msg := strings.TrimSpace(p.Message)
		if msg == "" {
			msg = "unknown error"
		}
		s = s.closeStreaming(nil)
		s.LastError = msg
		s.Busy = false
		s.StatusText = ""
		if s.IsRun() {
			s.Entries = appendEntry(s.Entries, Entry{
				ID:        entryID(f, "error", len(s.Entries)),
				Kind:      EntryError,
				Content:   msg,
				IsError:   true,
				CreatedAt: f.ReceivedAt,
			})
		}
		return s, nil, nil

	case event.TypeAuthExpired:
		s = s.closeStreaming(nil)
		s.AuthExpired = true
		s.ID = ""
		s.Busy = false
		s.StatusText = ""
		return s, []Effect{EffectCloseStream}, nil

	case event.TypeStatus:
		next, err := s.applyStatus(f)
		return next, nil, err

	case event.TypeEpicProgress:
		var p event.EpicProgressPayload
		if err := f.Decode(&p); err != nil {
			return s, nil, err
		}
		s.Epic = applyProgress(p)
		return s, nil, nil

	case event.TypeSystem:
		next, err := s.applySystem(f)
		return next, nil, err

	case event.TypeCompletionSignal:
		next, err := s.applyCompletion(f)
		return next, nil, err
	}

	return s, nil, nil
}

func (s Session) applyHistory(f event.Frame) (Session, error) {
	var p event.HistoryPayload
	if err := f.Decode(&p); err != nil {
		return s, err
	}
	if s.entryIndex(p.ID) >= 0 {
		return s, nil
	}

	e := Entry{
		ID:        p.ID,
		Kind:      historyKind(s, p),
		Content:   p.Content,
		ToolName:  p.ToolName,
		ToolInput: p.ToolInput,
		ToolUseID: p.ToolUseID,
		IsError:   p.IsError,
		CreatedAt: p.CreatedAt,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = f.ReceivedAt
	}
	if e.Kind == EntryToolUse && e.ToolUseID == "" {
		e.ToolUseID = e.ID
	}
	if p.Usage != nil {
		u := *p.Usage
		e.Usage = &u
	}
	for _, c := range p.ToolCalls {
		e.ToolCalls = append(e.ToolCalls, ToolCall{
			ID:      c.ID,
			Name:    c.Name,
			Input:   c.Input,
			Result:  c.Result,
			IsError: c.IsError,
		})
	}
	s.Entries = appendEntry(s.Entries, e)
	return s, nil
}

func historyKind(s Session, p event.HistoryPayload) EntryKind {
	if k := EntryKind(p.EntryKind()); k != "" {
		return k
	}
	if s.IsRun() {
		return EntryText
	}
	return EntryAssistant
}

func (s Session) applyText(f event.Frame) (Session, error) {
	var p event.TextPayload
	if err := f.Decode(&p); err != nil {
		return s, err
	}

	if p.MessageID != "" {
		if i := s.entryIndex(p.MessageID); i >= 0 && !s.Entries[i].IsStreaming {
			// already complete, most likely replayed through history
			return s, nil
		}
	}

	s.Busy = true
	s.StatusText = ""

	if i := s.streamingIndex(); i >= 0 {
		e := s.Entries[i]
		if p.MessageID == "" || p.MessageID == e.ID || !s.IsRun() {
			e.Content += p.Content
			s.Entries = replaceEntry(s.Entries, i, e)
			return s, nil
		}
		s = s.closeStreaming(nil)
	}

	kind := EntryAssistant
	if s.IsRun() {
		kind = EntryText
	}
	id := p.MessageID
	if id == "" {
		id = entryID(f, string(kind), len(s.Entries))
	}
	s.Entries = appendEntry(s.Entries, Entry{
		ID:          id,
		Kind:        kind,
		Content:     p.Content,
		IsStreaming: true,
		CreatedAt:   f.ReceivedAt,
	})
	return s, nil
}

func (s Session) applyStatus(f event.Frame) (Session, error) {
	var p event.StatusPayload
	if err := f.Decode(&p); err != nil {
		return s, err
	}

	msg := strings.TrimSpace(p.Message)
	if s.IsRun() {
		if msg != "" {
			s.Entries = appendEntry(s.Entries, Entry{
				ID:        entryID(f, "status", len(s.Entries)),
				Kind:      EntryStatus,
				Content:   msg,
				CreatedAt: f.ReceivedAt,
			})
		}
	} else {
		s.StatusText = msg
	}

	if s.Status.IsTerminal() {
		return s, nil
	}

	if next, ok := ParseStatus(p.Status); ok {
		s = s.transition(next)
	}
	if p.AwaitingInput != nil {
		s.AwaitingUserInput = *p.AwaitingInput
		switch {
		case *p.AwaitingInput:
			s.Status, _ = Transition(s.Status, StatusPaused)
		case s.Status == StatusPaused:
			s.Status, _ = Transition(s.Status, StatusRunning)
		}
	}
	return s, nil
}

// transition moves s to next. For runs, paused and awaiting input are the
// same condition, so the flag follows the status.
func (s Session) transition(next Status) Session {
	status, changed := Transition(s.Status, next)
	if !changed {
		return s
	}
	s.Status = status
	if s.IsRun() {
		s.AwaitingUserInput = status == StatusPaused
	}
	if status.IsTerminal() {
		s = s.closeStreaming(nil)
		s.Busy = false
		s.AwaitingUserInput = false
	}
	return s
}

func (s Session) applySystem(f event.Frame) (Session, error) {
	var p event.SystemPayload
	if err := f.Decode(&p); err != nil {
		return s, err
	}
	content := strings.TrimSpace(p.Content)
	if content == event.ReadyMarker {
		s.Ready = true
		return s, nil
	}
	if content == "" {
		return s, nil
	}
	kind := EntrySystem
	if s.IsRun() {
		kind = EntryStatus
	}
	s.Entries = appendEntry(s.Entries, Entry{
		ID:        entryID(f, "system", len(s.Entries)),
		Kind:      kind,
		Content:   p.Content,
		CreatedAt: f.ReceivedAt,
	})
	return s, nil
}

func (s Session) applyCompletion(f event.Frame) (Session, error) {
	var p event.CompletionSignalPayload
	if !f.Empty() {
		if err := f.Decode(&p); err != nil {
			return s, err
		}
	}
	next, ok := ParseStatus(p.Status)
	if !ok || !next.IsTerminal() {
		next = StatusCompleted
	}

	s = s.closeStreaming(nil)
	s.Entries = appendEntry(s.Entries, Entry{
		ID:        entryID(f, "completion", len(s.Entries)),
		Kind:      EntryCompletionSignal,
		Content:   strings.TrimSpace(p.Message),
		IsError:   next == StatusFailed,
		CreatedAt: f.ReceivedAt,
	})
	return s.transition(next), nil
}

func entryID(f event.Frame, prefix string, n int) string {
	if f.ID != "" {
		return f.ID
	}
	return fmt.Sprintf("%s-%d", prefix, n)
}
