package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kong/kaictl/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeConn is one stream opened by the controller.
type fakeConn struct {
	ctx    context.Context
	frames chan event.Frame
	errs   chan error
}

func (c *fakeConn) push(t *testing.T, f event.Frame) {
	t.Helper()
	select {
	case c.frames <- f:
	case <-c.ctx.Done():
		t.Fatalf("stream closed before %s frame was delivered", f.Type)
	case <-time.After(waitFor):
		t.Fatalf("timed out delivering %s frame", f.Type)
	}
}

func (c *fakeConn) drop(err error) {
	c.errs <- err
	close(c.frames)
}

func (c *fakeConn) closed() bool {
	return c.ctx.Err() != nil
}

type mockBackend struct {
	mock.Mock

	conns    chan *fakeConn
	openErrs chan error

	mu      sync.Mutex
	opened  []*fakeConn
	overlap atomic.Bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		conns:    make(chan *fakeConn, 16),
		openErrs: make(chan error, 16),
	}
}

func (m *mockBackend) CreateSession(ctx context.Context, req event.CreateRequest) (event.CreateResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(event.CreateResponse), args.Error(1)
}

func (m *mockBackend) OpenStream(ctx context.Context, sessionID string) (*event.Stream, error) {
	select {
	case err := <-m.openErrs:
		return nil, err
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := &fakeConn{ctx: ctx, frames: make(chan event.Frame), errs: make(chan error, 1)}

	m.mu.Lock()
	for _, prev := range m.opened {
		if !prev.closed() {
			m.overlap.Store(true)
		}
	}
	m.opened = append(m.opened, conn)
	m.mu.Unlock()

	m.conns <- conn
	return event.NewStream(conn.frames, conn.errs, cancel), nil
}

func (m *mockBackend) SendMessage(ctx context.Context, sessionID string, msg event.OutgoingMessage) error {
	return m.Called(ctx, sessionID, msg).Error(0)
}

func (m *mockBackend) CancelTurn(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockBackend) StopSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

func (t *fakeTimer) fire() {
	if !t.stopped.Load() {
		t.fn()
	}
}

type authError struct{}

func (authError) Error() string     { return "401 unauthorized" }
func (authError) AuthExpired() bool { return true }

type harness struct {
	t       *testing.T
	backend *mockBackend
	ctrl    *Controller
	applied chan event.Frame
	timers  chan *fakeTimer
	conn    *fakeConn
}

func newHarness(t *testing.T, req event.CreateRequest, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		backend: newMockBackend(),
		applied: make(chan event.Frame, 64),
		timers:  make(chan *fakeTimer, 16),
	}

	var ids atomic.Int32
	opts = append([]Option{
		WithClock(func() time.Time { return testTime }),
		WithIDGenerator(func() string { return fmt.Sprintf("msg-%d", ids.Add(1)) }),
		WithAfterFunc(func(d time.Duration, fn func()) Timer {
			timer := &fakeTimer{delay: d, fn: fn}
			h.timers <- timer
			return timer
		}),
		WithFrameHook(func(f event.Frame) { h.applied <- f }),
	}, opts...)
	h.ctrl = NewController(h.backend, opts...)
	t.Cleanup(h.ctrl.Dispose)

	h.backend.On("CreateSession", mock.Anything, req).
		Return(event.CreateResponse{SessionID: "s-1", CreatedAt: testTime}, nil).Once()

	handle, err := h.ctrl.Start(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, handle)

	h.conn = h.nextConn()
	return h
}

func newChatHarness(t *testing.T) *harness {
	return newHarness(t, event.CreateRequest{Kind: event.KindInteractive, Model: "sonnet"})
}

func newRunHarness(t *testing.T, mode string, opts ...Option) *harness {
	return newHarness(t, event.CreateRequest{
		Kind:          event.KindAutonomousRun,
		IssueRef:      "KAI-42",
		ExecutionMode: mode,
	}, opts...)
}

func (h *harness) nextConn() *fakeConn {
	h.t.Helper()
	select {
	case c := <-h.backend.conns:
		return c
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for the stream to open")
		return nil
	}
}

func (h *harness) nextTimer() *fakeTimer {
	h.t.Helper()
	select {
	case timer := <-h.timers:
		return timer
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for a reconnection to be scheduled")
		return nil
	}
}

// deliver pushes f on the current stream and waits until it was applied.
func (h *harness) deliver(f event.Frame) Session {
	h.t.Helper()
	h.conn.push(h.t, f)
	select {
	case <-h.applied:
	case <-time.After(waitFor):
		h.t.Fatalf("timed out applying %s frame", f.Type)
	}
	return h.ctrl.Snapshot()
}

func (h *harness) waitUntil(cond func(Session) bool, msg string) Session {
	h.t.Helper()
	var s Session
	require.Eventually(h.t, func() bool {
		s = h.ctrl.Snapshot()
		return cond(s)
	}, waitFor, 5*time.Millisecond, msg)
	return s
}

func TestControllerStartRejectsInvalidRequest(t *testing.T) {
	backend := newMockBackend()
	ctrl := NewController(backend)
	defer ctrl.Dispose()

	_, err := ctrl.Start(context.Background(), event.CreateRequest{Kind: event.KindAutonomousRun})

	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	backend.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestControllerStartCreationFailure(t *testing.T) {
	req := event.CreateRequest{Kind: event.KindInteractive}
	backend := newMockBackend()
	backend.On("CreateSession", mock.Anything, req).
		Return(event.CreateResponse{}, errors.New("503 service unavailable")).Once()
	backend.On("CreateSession", mock.Anything, req).
		Return(event.CreateResponse{SessionID: ""}, nil).Once()

	ctrl := NewController(backend)
	defer ctrl.Dispose()

	_, err := ctrl.Start(context.Background(), req)
	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.ErrorContains(t, err, "503 service unavailable")

	_, err = ctrl.Start(context.Background(), req)
	require.ErrorAs(t, err, &creationErr)
	assert.ErrorContains(t, err, "empty session id")

	assert.Empty(t, backend.conns)
	backend.AssertExpectations(t)
}

func TestControllerStartTwice(t *testing.T) {
	h := newChatHarness(t)

	_, err := h.ctrl.Start(context.Background(), event.CreateRequest{Kind: event.KindInteractive})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestControllerStartIsQueuedUntilConnected(t *testing.T) {
	h := newRunHarness(t, "")

	s := h.ctrl.Snapshot()
	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, StatusQueued, s.Status)
	assert.Equal(t, event.ExecutionAutonomous, s.Mode)
	assert.Equal(t, testTime, s.CreatedAt)

	s = h.deliver(frame(t, event.TypeConnected, nil))
	assert.Equal(t, StatusRunning, s.Status)
}

func TestControllerStreamingScenario(t *testing.T) {
	h := newChatHarness(t)

	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(text(t, "Hel"))
	h.deliver(text(t, "lo"))
	s := h.deliver(frame(t, event.TypeDone, event.DonePayload{Usage: event.Usage{TotalTokens: 12}}))

	require.Len(t, s.Entries, 1)
	assert.Equal(t, EntryAssistant, s.Entries[0].Kind)
	assert.Equal(t, "Hello", s.Entries[0].Content)
	assert.False(t, s.Entries[0].IsStreaming)
	assert.EqualValues(t, 12, s.Entries[0].Usage.TotalTokens)
}

func TestControllerQuestionInterceptionCancelsOnce(t *testing.T) {
	h := newChatHarness(t)

	cancelled := make(chan struct{}, 4)
	h.backend.On("CancelTurn", mock.Anything, "s-1").
		Run(func(mock.Arguments) { cancelled <- struct{}{} }).
		Return(nil)

	q := event.QuestionInput{Questions: []event.Question{{Question: "Which environment?", Header: "Env"}}}
	h.deliver(frame(t, event.TypeConnected, nil))
	s := h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, q))

	require.NotNil(t, s.PendingQuestion)
	assert.Empty(t, s.ToolCalls())
	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("turn was not cancelled")
	}

	h.deliver(toolUse(t, "q2", event.ToolAskUserQuestion, q))
	h.deliver(frame(t, event.TypeDone, nil))

	assert.Empty(t, cancelled)
	h.backend.AssertNumberOfCalls(t, "CancelTurn", 1)
}

func TestControllerInterruptFailureFreesInput(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("CancelTurn", mock.Anything, "s-1").Return(errors.New("turn already finishing"))

	sent := make(chan event.OutgoingMessage, 1)
	h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).
		Run(func(args mock.Arguments) { sent <- args.Get(2).(event.OutgoingMessage) }).
		Return(nil).Once()

	q := event.QuestionInput{Questions: []event.Question{{Question: "Which environment?", Header: "Env"}}}
	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(text(t, "Let me ask."))
	h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, q))

	s := h.waitUntil(func(s Session) bool { return !s.Busy }, "session stayed busy after the refused interrupt")
	assert.Contains(t, s.LastError, "turn already finishing")
	require.NotNil(t, s.PendingQuestion)
	_, streaming := s.Streaming()
	assert.False(t, streaming)

	require.NoError(t, h.ctrl.AnswerQuestion(context.Background(), []Answer{{Header: "Env", Values: []string{"staging"}}}))
	select {
	case msg := <-sent:
		assert.Equal(t, "**Env**: staging", msg.Text)
	case <-time.After(waitFor):
		t.Fatal("reply was not sent")
	}
}

func TestControllerDeferredAnswer(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("CancelTurn", mock.Anything, "s-1").Return(nil)

	sent := make(chan event.OutgoingMessage, 1)
	h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).
		Run(func(args mock.Arguments) { sent <- args.Get(2).(event.OutgoingMessage) }).
		Return(nil).Once()

	q := event.QuestionInput{Questions: []event.Question{{Question: "Which environment?", Header: "Env"}}}
	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(text(t, "Let me ask."))
	s := h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, q))
	require.True(t, s.Busy)

	require.NoError(t, h.ctrl.AnswerQuestion(context.Background(), []Answer{{Header: "Env", Values: []string{"staging"}}}))
	s = h.ctrl.Snapshot()
	assert.Nil(t, s.PendingQuestion)
	assert.Empty(t, sent, "reply must wait for the interrupted turn to close")

	h.deliver(frame(t, event.TypeDone, nil))

	select {
	case msg := <-sent:
		assert.Equal(t, "**Env**: staging", msg.Text)
		assert.Equal(t, "msg-1", msg.ID)
	case <-time.After(waitFor):
		t.Fatal("deferred reply was not sent")
	}

	s = h.ctrl.Snapshot()
	assert.True(t, s.Busy)
	last := s.Entries[len(s.Entries)-1]
	assert.Equal(t, EntryUser, last.Kind)
	assert.Equal(t, "**Env**: staging", last.Content)
}

func TestControllerSkipQuestion(t *testing.T) {
	h := newRunHarness(t, "")
	h.backend.On("CancelTurn", mock.Anything, "s-1").Return(nil)
	h.backend.On("SendMessage", mock.Anything, "s-1", event.OutgoingMessage{ID: "msg-1", Text: SkipMessage}).
		Return(nil).Once()

	assert.ErrorIs(t, h.ctrl.SkipQuestion(context.Background()), ErrNoPendingQuestion)

	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, event.QuestionInput{}))
	h.deliver(frame(t, event.TypeDone, nil))

	require.NoError(t, h.ctrl.SkipQuestion(context.Background()))
	assert.Nil(t, h.ctrl.Snapshot().PendingQuestion)
	h.backend.AssertExpectations(t)
}

func TestControllerAnswerFailureRestoresQuestion(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("CancelTurn", mock.Anything, "s-1").Return(nil)
	h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).
		Return(errors.New("connection reset")).Once()

	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, event.QuestionInput{}))
	h.deliver(frame(t, event.TypeDone, nil))

	err := h.ctrl.SkipQuestion(context.Background())
	var rejected *CommandRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "skip", rejected.Command)

	s := h.ctrl.Snapshot()
	require.NotNil(t, s.PendingQuestion)
	assert.Equal(t, "q1", s.PendingQuestion.ToolUseID)
	assert.Empty(t, s.Entries)
	assert.False(t, s.Busy)
}

func TestControllerSendGuards(t *testing.T) {
	t.Run("chat while busy", func(t *testing.T) {
		h := newChatHarness(t)
		h.deliver(frame(t, event.TypeConnected, nil))
		h.deliver(text(t, "still going"))

		err := h.ctrl.Send(context.Background(), "hello?")
		assert.ErrorIs(t, err, ErrCommandNotAllowed)
		h.backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("chat with a pending question", func(t *testing.T) {
		h := newChatHarness(t)
		h.backend.On("CancelTurn", mock.Anything, "s-1").Return(nil)
		h.deliver(toolUse(t, "q1", event.ToolAskUserQuestion, event.QuestionInput{}))
		h.deliver(frame(t, event.TypeDone, nil))

		assert.ErrorIs(t, h.ctrl.Send(context.Background(), "hello?"), ErrCommandNotAllowed)
	})

	t.Run("empty text", func(t *testing.T) {
		h := newChatHarness(t)
		assert.ErrorIs(t, h.ctrl.Send(context.Background(), "  \n"), ErrEmptyMessage)
	})

	t.Run("autonomous run not awaiting input", func(t *testing.T) {
		h := newRunHarness(t, event.ExecutionAutonomous)
		h.deliver(frame(t, event.TypeConnected, nil))

		assert.ErrorIs(t, h.ctrl.Send(context.Background(), "go on"), ErrCommandNotAllowed)
	})

	t.Run("autonomous run awaiting input", func(t *testing.T) {
		h := newRunHarness(t, event.ExecutionAutonomous)
		h.backend.On("SendMessage", mock.Anything, "s-1", event.OutgoingMessage{ID: "msg-1", Text: "approved"}).
			Return(nil).Once()

		yes := true
		h.deliver(frame(t, event.TypeConnected, nil))
		h.deliver(frame(t, event.TypeStatus, event.StatusPayload{AwaitingInput: &yes}))

		require.NoError(t, h.ctrl.Send(context.Background(), " approved "))
		assert.Empty(t, h.ctrl.Snapshot().Entries, "run messages arrive through the stream")
		h.backend.AssertExpectations(t)
	})

	t.Run("guided run accepts mid-run messages", func(t *testing.T) {
		h := newRunHarness(t, event.ExecutionGuided)
		h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).Return(nil).Once()
		h.deliver(frame(t, event.TypeConnected, nil))

		require.NoError(t, h.ctrl.Send(context.Background(), "use the v2 API"))
	})

	t.Run("terminal session", func(t *testing.T) {
		h := newRunHarness(t, event.ExecutionGuided)
		h.deliver(frame(t, event.TypeCompletionSignal, nil))

		assert.ErrorIs(t, h.ctrl.Send(context.Background(), "more"), ErrCommandNotAllowed)
	})
}

func TestControllerSendIsOptimistic(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("SendMessage", mock.Anything, "s-1", event.OutgoingMessage{ID: "msg-1", Text: "hi"}).
		Return(nil).Once()
	h.deliver(frame(t, event.TypeConnected, nil))

	updates, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()
	<-updates

	require.NoError(t, h.ctrl.Send(context.Background(), "hi"))

	s := <-updates
	require.Len(t, s.Entries, 1)
	assert.Equal(t, Entry{ID: "msg-1", Kind: EntryUser, Content: "hi", CreatedAt: testTime}, s.Entries[0])
	assert.True(t, s.Busy)
	assert.True(t, s.Producing())
}

func TestControllerSendFailureRollsBack(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).
		Return(errors.New("connection reset")).Once()
	h.deliver(frame(t, event.TypeConnected, nil))

	err := h.ctrl.Send(context.Background(), "hi")

	var rejected *CommandRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "send", rejected.Command)
	s := h.ctrl.Snapshot()
	assert.Empty(t, s.Entries)
	assert.False(t, s.Busy)
	assert.False(t, s.AuthExpired)
}

func TestControllerSendAuthExpired(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("SendMessage", mock.Anything, "s-1", mock.Anything).Return(authError{}).Once()

	err := h.ctrl.Send(context.Background(), "hi")
	require.Error(t, err)

	s := h.ctrl.Snapshot()
	assert.True(t, s.AuthExpired)
	assert.Empty(t, s.ID)
	assert.True(t, h.conn.closed())
	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "again"), ErrAuthExpired)
}

func TestControllerRetry(t *testing.T) {
	h := newChatHarness(t)
	h.backend.On("SendMessage", mock.Anything, "s-1", event.OutgoingMessage{ID: "msg-1", Text: "deploy it"}).
		Return(nil).Once()
	h.backend.On("SendMessage", mock.Anything, "s-1", event.OutgoingMessage{ID: "msg-2", Text: "deploy it"}).
		Return(nil).Once()

	assert.ErrorIs(t, h.ctrl.Retry(context.Background()), ErrCommandNotAllowed)

	h.deliver(frame(t, event.TypeConnected, nil))
	require.NoError(t, h.ctrl.Send(context.Background(), "deploy it"))
	s := h.deliver(frame(t, event.TypeError, event.ErrorPayload{Message: "overloaded"}))
	assert.Equal(t, "overloaded", s.LastError)

	require.NoError(t, h.ctrl.Retry(context.Background()))
	s = h.ctrl.Snapshot()
	assert.Empty(t, s.LastError)
	assert.Len(t, s.Entries, 2)
	h.backend.AssertExpectations(t)
}

func TestControllerDismissError(t *testing.T) {
	h := newChatHarness(t)
	h.deliver(frame(t, event.TypeError, event.ErrorPayload{Message: "boom"}))

	h.ctrl.DismissError()

	s := h.ctrl.Snapshot()
	assert.Empty(t, s.LastError)
	assert.Equal(t, StatusQueued, s.Status)
}

func TestControllerCancel(t *testing.T) {
	h := newRunHarness(t, "")
	h.backend.On("CancelTurn", mock.Anything, "s-1").Return(nil).Once()

	assert.ErrorIs(t, h.ctrl.Cancel(context.Background()), ErrCommandNotAllowed, "queued run is not producing")

	h.deliver(frame(t, event.TypeConnected, nil))
	require.NoError(t, h.ctrl.Cancel(context.Background()))

	s := h.ctrl.Snapshot()
	assert.Equal(t, StatusRunning, s.Status, "cancel waits for the stream")
	h.backend.AssertExpectations(t)
}

func TestControllerStop(t *testing.T) {
	h := newRunHarness(t, "")
	h.backend.On("StopSession", mock.Anything, "s-1").Return(nil).Once()
	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(text(t, "working"))

	require.NoError(t, h.ctrl.Stop(context.Background()))

	s := h.ctrl.Snapshot()
	assert.Equal(t, StatusCancelled, s.Status)
	assert.False(t, s.Producing())
	_, streaming := s.Streaming()
	assert.False(t, streaming)
	assert.True(t, h.conn.closed())
	assert.ErrorIs(t, h.ctrl.Stop(context.Background()), ErrCommandNotAllowed)
}

func TestControllerStopFailureStaysCancelled(t *testing.T) {
	h := newRunHarness(t, "")
	h.backend.On("StopSession", mock.Anything, "s-1").Return(errors.New("502 bad gateway")).Once()

	err := h.ctrl.Stop(context.Background())

	var rejected *CommandRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "stop", rejected.Command)
	assert.Equal(t, StatusCancelled, h.ctrl.Snapshot().Status)
}

func TestControllerReconnects(t *testing.T) {
	h := newRunHarness(t, "")
	h.deliver(frame(t, event.TypeConnected, nil))

	const drops = 3
	for i := range drops {
		h.conn.drop(errors.New("connection reset by peer"))

		timer := h.nextTimer()
		assert.Equal(t, DefaultReconnectDelay, timer.delay)
		s := h.waitUntil(func(s Session) bool { return s.Reconnecting }, "reconnect not scheduled")
		assert.True(t, s.Disconnected)
		assert.Empty(t, h.backend.conns, "attempt %d opened before the delay", i)

		timer.fire()
		h.conn = h.nextConn()
		s = h.deliver(frame(t, event.TypeConnected, nil))
		assert.False(t, s.Disconnected)
		assert.False(t, s.Reconnecting)
	}

	assert.Empty(t, h.timers)
	assert.False(t, h.backend.overlap.Load(), "two streams were open at once")
}

func TestControllerReconnectGuard(t *testing.T) {
	h := newRunHarness(t, "")
	h.backend.openErrs <- errors.New("dial tcp: connection refused")

	first := h.conn
	first.drop(errors.New("EOF"))
	timer := h.nextTimer()

	// another error while an attempt is pending must not schedule a second one
	h.ctrl.mu.Lock()
	gen := h.ctrl.generation
	h.ctrl.mu.Unlock()
	h.ctrl.onTransportError(gen, errors.New("late error"))
	assert.Empty(t, h.timers)

	timer.fire()
	second := h.nextTimer()
	assert.Empty(t, h.backend.conns)

	second.fire()
	h.conn = h.nextConn()
	s := h.deliver(frame(t, event.TypeConnected, nil))
	assert.False(t, s.Disconnected)
}

func TestControllerNoReconnectWhenTerminal(t *testing.T) {
	h := newRunHarness(t, "")
	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(frame(t, event.TypeCompletionSignal, event.CompletionSignalPayload{Status: "completed"}))

	h.conn.drop(nil)

	s := h.waitUntil(func(s Session) bool { return s.Disconnected }, "drop not observed")
	assert.False(t, s.Reconnecting)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Empty(t, h.timers)
}

func TestControllerAuthExpiredFrame(t *testing.T) {
	h := newChatHarness(t)
	h.deliver(frame(t, event.TypeConnected, nil))

	s := h.deliver(frame(t, event.TypeAuthExpired, nil))

	assert.True(t, s.AuthExpired)
	assert.Empty(t, s.ID)
	assert.True(t, h.conn.closed())
	assert.Empty(t, h.timers)
	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "hi"), ErrAuthExpired)
	assert.ErrorIs(t, h.ctrl.Cancel(context.Background()), ErrAuthExpired)
}

func TestControllerAuthExpiredOnReconnect(t *testing.T) {
	h := newChatHarness(t)
	h.backend.openErrs <- authError{}

	h.conn.drop(errors.New("EOF"))
	h.nextTimer().fire()

	s := h.waitUntil(func(s Session) bool { return s.AuthExpired }, "auth expiry not recorded")
	assert.Empty(t, s.ID)
	assert.False(t, s.Reconnecting)
	assert.Empty(t, h.timers)
}

func TestControllerDispose(t *testing.T) {
	h := newChatHarness(t)
	updates, _ := h.ctrl.Subscribe()

	h.ctrl.Dispose()
	h.ctrl.Dispose()

	assert.True(t, h.conn.closed())
	assert.ErrorIs(t, h.ctrl.Send(context.Background(), "hi"), ErrDisposed)
	_, err := h.ctrl.Start(context.Background(), event.CreateRequest{Kind: event.KindInteractive})
	assert.ErrorIs(t, err, ErrDisposed)

	<-updates
	_, open := <-updates
	assert.False(t, open)

	late, _ := h.ctrl.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestControllerDisposeCancelsPendingReconnect(t *testing.T) {
	h := newChatHarness(t)
	h.conn.drop(errors.New("EOF"))
	timer := h.nextTimer()

	h.ctrl.Dispose()
	assert.True(t, timer.stopped.Load())

	timer.fn()
	assert.Empty(t, h.backend.conns)
}

func TestControllerSubscribeCoalesces(t *testing.T) {
	h := newChatHarness(t)
	updates, unsubscribe := h.ctrl.Subscribe()

	h.deliver(frame(t, event.TypeConnected, nil))
	h.deliver(text(t, "a"))
	h.deliver(text(t, "b"))

	s := <-updates
	assert.Equal(t, "ab", s.Entries[0].Content)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}

	unsubscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}

func TestControllerEpicViolationsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	h := newRunHarness(t, "", WithLogger(logger))

	h.deliver(frame(t, event.TypeEpicProgress, event.EpicProgressPayload{
		TotalTasks: 2, CurrentIndex: 1, TaskIDs: []string{"a", "b"}, CompletedTaskIDs: []string{"a"},
	}))
	assert.Empty(t, buf.String())

	s := h.deliver(frame(t, event.TypeEpicProgress, event.EpicProgressPayload{
		TotalTasks:       2,
		CurrentIndex:     0,
		TaskIDs:          []string{"a", "b"},
		CompletedTaskIDs: []string{"a"},
		FailedTaskIDs:    []string{"a"},
	}))

	require.NotNil(t, s.Epic)
	assert.Equal(t, 0, s.Epic.CurrentIndex, "progress is reflected as reported")
	assert.InDelta(t, 50.0, s.Epic.PercentFailed(), 0.001)

	logs := buf.String()
	assert.Contains(t, logs, "current index moved back from 1 to 0")
	assert.Contains(t, logs, `task \"a\" is both completed and failed`)
}
