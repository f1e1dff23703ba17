package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired is returned by commands once the backend reported that
	// the credentials of the session are no longer valid.
	ErrAuthExpired = errors.New("authentication expired, start a new session after re-authenticating")
	// ErrCommandNotAllowed is returned when a command is not legal in the
	// current state of the session. The command has no effect.
	ErrCommandNotAllowed = errors.New("command not allowed in the current session state")
	// ErrNoPendingQuestion is returned when answering while no question is pending.
	ErrNoPendingQuestion = errors.New("no question is pending")
	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrDisposed is returned by every command after Dispose.
	ErrDisposed = errors.New("session controller disposed")
	// ErrAlreadyStarted is returned by Start on a controller that already owns a session.
	ErrAlreadyStarted = errors.New("session already started")
)

// CreationError reports that the backend did not create the session.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	if e == nil || e.Err == nil {
		return "failed to create session"
	}
	return fmt.Sprintf("failed to create session: %s", e.Err)
}

func (e *CreationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CommandRejected reports that a command failed at the transport layer.
type CommandRejected struct {
	Command string
	Err     error
}

func (e *CommandRejected) Error() string {
	if e == nil {
		return "command rejected"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s rejected", e.Command)
	}
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Err)
}

func (e *CommandRejected) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// notAllowed wraps ErrCommandNotAllowed with the reason.
func notAllowed(command, reason string) error {
	return fmt.Errorf("%s: %s: %w", command, reason, ErrCommandNotAllowed)
}

// authExpirer is implemented by transport errors that signal expired credentials.
type authExpirer interface {
	AuthExpired() bool
}

func isAuthExpired(err error) bool {
	var ae authExpirer
	return errors.As(err, &ae) && ae.AuthExpired()
}
