package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes interactive chat sessions from autonomous runs.
type Kind string

const (
	KindInteractive   Kind = "interactive"
	KindAutonomousRun Kind = "autonomous-run"
)

// Execution modes of an autonomous run.
const (
	ExecutionAutonomous = "autonomous"
	ExecutionGuided     = "guided"
)

// CreateRequest holds the initialization parameters of a new session.
type CreateRequest struct {
	Kind          Kind     `json:"kind"                    toml:"kind"`
	Name          string   `json:"name,omitempty"          toml:"name"`
	Model         string   `json:"model,omitempty"         toml:"model"`
	Mode          string   `json:"mode,omitempty"          toml:"mode"`
	IssueRef      string   `json:"issueRef,omitempty"      toml:"issue"`
	ExecutionMode string   `json:"executionMode,omitempty" toml:"execution-mode"`
	EpicTaskIDs   []string `json:"epicTaskIds,omitempty"   toml:"epic-task-ids"`
}

// Validate checks that the request carries what its kind requires.
func (r CreateRequest) Validate() error {
	switch r.Kind {
	case KindInteractive:
		return nil
	case KindAutonomousRun:
		if strings.TrimSpace(r.IssueRef) == "" && len(r.EpicTaskIDs) == 0 {
			return errors.New("a run requires an issue reference or epic task ids")
		}
		switch r.ExecutionMode {
		case "", ExecutionAutonomous, ExecutionGuided:
			return nil
		default:
			return fmt.Errorf("invalid execution mode %q, must be one of %v",
				r.ExecutionMode, []string{ExecutionAutonomous, ExecutionGuided})
		}
	case "":
		return errors.New("session kind is required")
	default:
		return fmt.Errorf("unknown session kind %q", r.Kind)
	}
}

// SessionMode returns the mode recorded on the session: the execution mode for
// runs and the chat mode otherwise.
func (r CreateRequest) SessionMode() string {
	if r.Kind == KindAutonomousRun {
		if r.ExecutionMode == "" {
			return ExecutionAutonomous
		}
		return r.ExecutionMode
	}
	return r.Mode
}

// CreateResponse is returned by the backend once a session exists.
type CreateResponse struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// OutgoingMessage is a follow-up message sent to a live session. The ID is
// echoed back on the stream so replays can be de-duplicated.
type OutgoingMessage struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}
