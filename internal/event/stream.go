package event

import (
	"context"
	"sync"
)

// Stream is an open push connection delivering frames in arrival order.
type Stream struct {
	Frames <-chan Frame
	err    <-chan error

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewStream wraps a frame channel and its terminal error channel. The cancel
// function, when non-nil, is used by Close to tear the connection down.
func NewStream(frames <-chan Frame, errCh <-chan error, cancel context.CancelFunc) *Stream {
	return &Stream{
		Frames: frames,
		err:    errCh,
		cancel: cancel,
	}
}

// Err blocks until the stream completes and returns the terminal error, if any.
func (s *Stream) Err() error {
	if s == nil || s.err == nil {
		return nil
	}
	return <-s.err
}

// Close tears the connection down. It is safe to call more than once.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
