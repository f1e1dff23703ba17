package session

import "strings"

// Status is the lifecycle state of a session.
//
//	queued -> running <-> paused -> {completed, failed, cancelled}
//
// queued may also move straight to paused or to a terminal state. Terminal
// states are sinks.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal. Staying in
// the same state is not a transition.
func (s Status) CanTransition(next Status) bool {
	if s == next || s.IsTerminal() {
		return false
	}
	switch next {
	case StatusRunning:
		return s == StatusQueued || s == StatusPaused || s == ""
	case StatusPaused:
		return s == StatusQueued || s == StatusRunning || s == ""
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusQueued:
		return s == ""
	}
	return false
}

// Transition returns next when the move is legal and s otherwise, along with
// whether the status changed.
func Transition(s, next Status) (Status, bool) {
	if !s.CanTransition(next) {
		return s, false
	}
	return next, true
}

// ParseStatus maps a backend status string onto a Status. Some common
// synonyms are accepted.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return StatusQueued, true
	case "running", "in_progress", "active":
		return StatusRunning, true
	case "paused", "waiting", "awaiting_input":
		return StatusPaused, true
	case "completed", "complete", "succeeded", "success", "done":
		return StatusCompleted, true
	case "failed", "failure", "error":
		return StatusFailed, true
	case "cancelled", "canceled", "stopped":
		return StatusCancelled, true
	}
	return "", false
}
