package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the discriminant of a push frame.
type Type string

const (
	TypeConnected        Type = "connected"
	TypeHistory          Type = "history"
	TypeText             Type = "text"
	TypeToolUse          Type = "tool_use"
	TypeToolResult       Type = "tool_result"
	TypeDone             Type = "done"
	TypeError            Type = "error"
	TypeAuthExpired      Type = "auth_expired"
	TypeStatus           Type = "status"
	TypeEpicProgress     Type = "epic_progress"
	TypeSystem           Type = "system"
	TypeCompletionSignal Type = "completion_signal"
	TypeHeartbeat        Type = "heartbeat"
)

func (t Type) String() string {
	return string(t)
}

// Known reports whether the type is part of the frame vocabulary.
func (t Type) Known() bool {
	switch t {
	case TypeConnected, TypeHistory, TypeText, TypeToolUse, TypeToolResult,
		TypeDone, TypeError, TypeAuthExpired, TypeStatus, TypeEpicProgress,
		TypeSystem, TypeCompletionSignal, TypeHeartbeat:
		return true
	}
	return false
}

// Frame is one discrete message received on a session stream.
type Frame struct {
	Type       Type            `json:"type"                 yaml:"type"`
	ID         string          `json:"id,omitempty"         yaml:"id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"       yaml:"data,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt,omitempty" yaml:"receivedAt,omitempty"`
}

// ErrEmptyPayload is returned by Decode when the frame carries no data.
var ErrEmptyPayload = errors.New("frame has no payload")

// New builds a frame carrying the JSON encoding of payload.
func New(t Type, payload any) (Frame, error) {
	f := Frame{Type: t}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if f.Empty() {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// Empty reports whether the frame has no payload.
func (f Frame) Empty() bool {
	trimmed := bytes.TrimSpace(f.Data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Parse builds a frame from the raw parts of a server-sent event. The
// frame type comes from the event name and falls back to a "type" field in
// the payload. Payloads of the form {"type": ..., "data": {...}} are
// unwrapped. Non-JSON data is kept as a JSON string.
func Parse(eventName, id string, raw []byte, receivedAt time.Time) Frame {
	f := Frame{
		Type:       Type(strings.TrimSpace(eventName)),
		ID:         strings.TrimSpace(id),
		ReceivedAt: receivedAt,
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return f
	}

	if !json.Valid(raw) {
		encoded, _ := json.Marshal(string(raw))
		f.Data = encoded
		return f
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &envelope) == nil && envelope.Type != "" {
		if f.Type == "" {
			f.Type = Type(envelope.Type)
		}
		if Type(envelope.Type) == f.Type && len(bytes.TrimSpace(envelope.Data)) > 0 {
			f.Data = append(json.RawMessage(nil), envelope.Data...)
			return f
		}
	}

	f.Data = append(json.RawMessage(nil), raw...)
	return f
}
