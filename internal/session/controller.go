package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kong/kaictl/internal/event"
)

// DefaultReconnectDelay is the fixed pause before reopening a dropped stream.
const DefaultReconnectDelay = 3 * time.Second

var errStreamClosed = errors.New("stream closed by server")

// Backend is the agent service consumed by the controller.
type Backend interface {
	CreateSession(ctx context.Context, req event.CreateRequest) (event.CreateResponse, error)
	OpenStream(ctx context.Context, sessionID string) (*event.Stream, error)
	SendMessage(ctx context.Context, sessionID string, msg event.OutgoingMessage) error
	CancelTurn(ctx context.Context, sessionID string) error
	StopSession(ctx context.Context, sessionID string) error
}

// Handle gives hosts read access to a running session.
type Handle interface {
	Snapshot() Session
	Subscribe() (<-chan Session, func())
}

// Timer is the part of *time.Timer the controller relies on.
type Timer interface {
	Stop() bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithLogger sets the logger used for lifecycle and transport messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source used to stamp frames and entries.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling reconnections.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(c *Controller) {
		if fn != nil {
			c.afterFunc = fn
		}
	}
}

// WithIDGenerator sets the generator of client-side message ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithFrameHook registers a function called with every frame accepted from
// the live stream, in arrival order.
func WithFrameHook(fn func(event.Frame)) Option {
	return func(c *Controller) {
		c.frameHook = fn
	}
}

// outgoing is a message on its way to the backend.
type outgoing struct {
	command    string
	sessionID  string
	msg        event.OutgoingMessage
	optimistic bool
	// question is restored when delivery of an answer fails.
	question *PendingQuestion
}

// Controller owns the push connection of one session, applies its frames and
// guards the commands a host may issue. All state changes go through mu.
type Controller struct {
	backend        Backend
	logger         *slog.Logger
	reconnectDelay time.Duration
	now            func() time.Time
	afterFunc      func(time.Duration, func()) Timer
	newID          func() string
	frameHook      func(event.Frame)

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	state        Session
	started      bool
	disposed     bool
	generation   uint64
	closeStream  context.CancelFunc
	reconnecting bool
	timer        Timer
	deferred     *outgoing
	subscribers  map[int]chan Session
	nextSubID    int
}

// NewController returns a controller that talks to backend. Start must be
// called before any other command.
func NewController(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:        backend,
		logger:         slog.New(slog.DiscardHandler),
		reconnectDelay: DefaultReconnectDelay,
		now:            time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		newID:       uuid.NewString,
		subscribers: make(map[int]chan Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates the session on the backend and opens its stream. The stream
// is opened in the background; the first connected frame confirms it.
func (c *Controller) Start(ctx context.Context, req event.CreateRequest) (Handle, error) {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return nil, ErrDisposed
	case c.started:
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	resp, err := c.create(ctx, req)
	if err != nil {
		c.logger.Error("session creation failed",
			slog.String("kind", string(req.Kind)),
			slog.String("error", err.Error()))
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return nil, &CreationError{Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, ErrDisposed
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s := New(req.Kind, req.SessionMode())
	s.ID = resp.SessionID
	s.CreatedAt = resp.CreatedAt
	if s.CreatedAt.IsZero() {
		s.CreatedAt = c.now()
	}
	c.state = s

	c.logger.Info("session created",
		slog.String("session_id", s.ID),
		slog.String("kind", string(s.Kind)),
		slog.String("mode", s.Mode))

	c.publishLocked()
	c.openStreamLocked()
	return c, nil
}

func (c *Controller) create(ctx context.Context, req event.CreateRequest) (event.CreateResponse, error) {
	if err := req.Validate(); err != nil {
		return event.CreateResponse{}, err
	}
	resp, err := c.backend.CreateSession(ctx, req)
	if err != nil {
		return event.CreateResponse{}, err
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return event.CreateResponse{}, errors.New("backend returned an empty session id")
	}
	return resp, nil
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. A slow reader only misses intermediate snapshots, never the
// latest. The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.state

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

// Send delivers a follow-up message. Interactive sessions show the message
// immediately and roll it back if the backend rejects it.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	out, err := c.prepareSendLocked("send", text)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.deliver(ctx, out)
}

// Retry resends the most recent user message of an interactive session and
// clears the last turn error.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state.IsRun() {
		c.mu.Unlock()
		return notAllowed("retry", "runs cannot be retried")
	}
	text, ok := c.state.LastUserMessage()
	if !ok {
		c.mu.Unlock()
		return notAllowed("retry", "nothing to retry")
	}
	out, err := c.prepareSendLocked("retry", text)
	if err == nil {
		c.state.LastError = ""
		c.publishLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.deliver(ctx, out)
}

// Cancel asks the backend to stop the turn in progress. The outcome arrives
// on the stream.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLiveLocked("cancel"); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.state.Producing() {
		c.mu.Unlock()
		return notAllowed("cancel", "nothing is in progress")
	}
	id := c.state.ID
	c.mu.Unlock()

	if err := c.backend.CancelTurn(ctx, id); err != nil {
		c.rejected("cancel", err)
		return &CommandRejected{Command: "cancel", Err: err}
	}
	return nil
}

// Stop ends the session. The session is cancelled locally right away and
// stays cancelled even if the backend call fails.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLiveLocked("stop"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = c.state.transition(StatusCancelled)
	c.closeStreamLocked()
	c.stopReconnectLocked()
	c.deferred = nil
	id := c.state.ID
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("session stopped", slog.String("session_id", id))

	if err := c.backend.StopSession(ctx, id); err != nil {
		c.rejected("stop", err)
		return &CommandRejected{Command: "stop", Err: err}
	}
	return nil
}

// AnswerQuestion resolves the pending question with the given answers.
func (c *Controller) AnswerQuestion(ctx context.Context, answers []Answer) error {
	return c.resolveQuestion(ctx, "answer", func(q *PendingQuestion) string {
		return FormatAnswers(q, answers)
	})
}

// SkipQuestion resolves the pending question without answering it.
func (c *Controller) SkipQuestion(ctx context.Context) error {
	return c.resolveQuestion(ctx, "skip", func(*PendingQuestion) string {
		return SkipMessage
	})
}

// resolveQuestion clears the pending question and sends the synthesized
// reply. While the interrupted turn is still closing, the reply is held and
// sent once the turn's done or error frame arrives.
func (c *Controller) resolveQuestion(ctx context.Context, command string, format func(*PendingQuestion) string) error {
	c.mu.Lock()
	if err := c.checkLiveLocked(command); err != nil {
		c.mu.Unlock()
		return err
	}
	q := c.state.PendingQuestion
	if q == nil {
		c.mu.Unlock()
		return ErrNoPendingQuestion
	}
	c.state.PendingQuestion = nil
	out := &outgoing{
		command:  command,
		msg:      event.OutgoingMessage{Text: format(q)},
		question: q,
	}

	if c.state.Busy {
		c.deferred = out
		id := c.state.ID
		c.publishLocked()
		c.mu.Unlock()
		c.logger.Debug("question reply deferred until the turn closes", slog.String("session_id", id))
		return nil
	}

	c.beginSendLocked(out)
	c.publishLocked()
	c.mu.Unlock()
	return c.deliver(ctx, *out)
}

// DismissError clears the last turn error.
func (c *Controller) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.LastError == "" {
		return
	}
	c.state.LastError = ""
	c.publishLocked()
}

// Dispose closes the connection, stops pending reconnections and closes all
// subscriptions. It is safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.closeStreamLocked()
	c.stopReconnectLocked()
	c.deferred = nil
	if c.cancel != nil {
		c.cancel()
	}
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.logger.Debug("session controller disposed", slog.String("session_id", c.state.ID))
}

func (c *Controller) checkLiveLocked(command string) error {
	switch {
	case c.disposed:
		return ErrDisposed
	case c.state.AuthExpired:
		return ErrAuthExpired
	case !c.started || c.state.ID == "":
		return notAllowed(command, "no session")
	case c.state.Status.IsTerminal():
		return notAllowed(command, "session is "+c.state.Status.String())
	}
	return nil
}

func (c *Controller) prepareSendLocked(command, text string) (outgoing, error) {
	if err := c.checkLiveLocked(command); err != nil {
		return outgoing{}, err
	}
	if c.state.IsRun() {
		if !c.state.AwaitingUserInput && c.state.Mode != event.ExecutionGuided {
			return outgoing{}, notAllowed(command, "run is not awaiting input")
		}
	} else {
		if c.state.Busy {
			return outgoing{}, notAllowed(command, "a reply is in progress")
		}
		if c.state.PendingQuestion != nil {
			return outgoing{}, notAllowed(command, "a question is pending")
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return outgoing{}, ErrEmptyMessage
	}

	out := outgoing{command: command, msg: event.OutgoingMessage{Text: text}}
	c.beginSendLocked(&out)
	c.publishLocked()
	return out, nil
}

// beginSendLocked assigns the message id and, for interactive sessions,
// appends the optimistic user entry.
func (c *Controller) beginSendLocked(out *outgoing) {
	out.sessionID = c.state.ID
	if out.msg.ID == "" {
		out.msg.ID = c.newID()
	}
	if c.state.IsRun() {
		return
	}
	out.optimistic = true
	c.state.Entries = appendEntry(c.state.Entries, Entry{
		ID:        out.msg.ID,
		Kind:      EntryUser,
		Content:   out.msg.Text,
		CreatedAt: c.now(),
	})
	c.state.Busy = true
	c.state.StatusText = ""
}

func (c *Controller) deliver(ctx context.Context, out outgoing) error {
	err := c.backend.SendMessage(ctx, out.sessionID, out.msg)
	if err == nil {
		c.logger.Debug("message sent",
			slog.String("session_id", out.sessionID),
			slog.String("message_id", out.msg.ID),
			slog.String("command", out.command))
		return nil
	}

	c.mu.Lock()
	if out.optimistic {
		c.state.Entries = removeEntry(c.state.Entries, out.msg.ID)
		c.state.Busy = false
	}
	if out.question != nil && c.state.PendingQuestion == nil {
		c.state.PendingQuestion = out.question
	}
	c.publishLocked()
	c.mu.Unlock()

	c.rejected(out.command, err)
	return &CommandRejected{Command: out.command, Err: err}
}

// rejected logs a failed command and records expired credentials.
func (c *Controller) rejected(command string, err error) {
	c.logger.Warn("session command rejected",
		slog.String("command", command),
		slog.String("error", err.Error()))
	if !isAuthExpired(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	c.publishLocked()
}

func (c *Controller) expireLocked() {
	c.state = c.state.closeStreaming(nil)
	c.state.AuthExpired = true
	c.state.ID = ""
	c.state.Busy = false
	c.closeStreamLocked()
	c.stopReconnectLocked()
	c.deferred = nil
}

func (c *Controller) openStreamLocked() {
	c.closeStreamLocked()
	gen := c.generation
	ctx, cancel := context.WithCancel(c.ctx)
	c.closeStream = cancel
	go c.consume(ctx, gen, c.state.ID)
}

// closeStreamLocked tears the live connection down. Bumping the generation
// makes any frame still in flight from it stale.
func (c *Controller) closeStreamLocked() {
	c.generation++
	if c.closeStream != nil {
		c.closeStream()
		c.closeStream = nil
	}
}

func (c *Controller) stopReconnectLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.reconnecting = false
	c.state.Reconnecting = false
}

func (c *Controller) consume(ctx context.Context, gen uint64, sessionID string) {
	stream, err := c.backend.OpenStream(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			c.onTransportError(gen, err)
		}
		return
	}
	defer stream.Close()

	c.logger.Debug("session stream opened", slog.String("session_id", sessionID))

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-stream.Frames:
			if !ok {
				err := stream.Err()
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					err = errStreamClosed
				}
				c.onTransportError(gen, err)
				return
			}
			c.handleFrame(gen, f)
		}
	}
}

// handleFrame applies one frame from the stream of generation gen.
func (c *Controller) handleFrame(gen uint64, f event.Frame) {
	c.mu.Lock()
	if gen != c.generation || c.disposed {
		c.mu.Unlock()
		return
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = c.now()
	}

	prev := c.state
	next, effects, err := Reduce(prev, f)
	if err != nil {
		c.logger.Warn("session frame ignored",
			slog.String("session_id", prev.ID),
			slog.String("type", f.Type.String()),
			slog.String("error", err.Error()))
	}
	if next.Epic != nil && next.Epic != prev.Epic {
		for _, v := range next.Epic.Violations(prev.Epic) {
			c.logger.Warn("epic progress is inconsistent",
				slog.String("session_id", prev.ID),
				slog.String("violation", v))
		}
	}
	if next.Status != prev.Status {
		c.logger.Info("session status changed",
			slog.String("session_id", prev.ID),
			slog.String("from", prev.Status.String()),
			slog.String("to", next.Status.String()))
	}
	c.state = next

	cancelTurn := false
	for _, effect := range effects {
		switch effect {
		case EffectCloseStream:
			c.logger.Warn("session authentication expired", slog.String("session_id", prev.ID))
			c.closeStreamLocked()
			c.stopReconnectLocked()
			c.deferred = nil
		case EffectCancelTurn:
			cancelTurn = true
		}
	}

	deferred := c.takeDeferredLocked()
	c.publishLocked()
	ctx := c.ctx
	c.mu.Unlock()

	if c.frameHook != nil {
		c.frameHook(f)
	}
	if cancelTurn {
		if err := c.backend.CancelTurn(ctx, prev.ID); err != nil {
			c.rejected("cancel", err)
			if out := c.interruptFailed(err); out != nil && deferred == nil {
				deferred = out
			}
		}
	}
	if deferred != nil {
		if err := c.deliver(ctx, *deferred); err != nil {
			c.logger.Warn("deferred question reply failed", slog.String("error", err.Error()))
		}
	}
}

// interruptFailed ends the busy turn locally when the backend refused to
// interrupt it for a question. No done frame is expected after that, so a
// held question reply is released here instead.
func (c *Controller) interruptFailed(err error) *outgoing {
	if isAuthExpired(err) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state.Status.IsTerminal() {
		return nil
	}
	c.state = c.state.closeStreaming(nil)
	c.state.Busy = false
	c.state.LastError = fmt.Sprintf("could not interrupt the turn: %v", err)
	out := c.takeDeferredLocked()
	c.publishLocked()
	return out
}

// takeDeferredLocked releases the held question reply once the interrupted
// turn has closed.
func (c *Controller) takeDeferredLocked() *outgoing {
	out := c.deferred
	if out == nil || c.state.Busy {
		return nil
	}
	c.deferred = nil
	if c.state.Status.IsTerminal() || c.state.AuthExpired || c.state.ID == "" {
		return nil
	}
	c.beginSendLocked(out)
	return out
}

func (c *Controller) onTransportError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.disposed {
		return
	}
	c.closeStreamLocked()

	c.logger.Warn("session stream dropped",
		slog.String("session_id", c.state.ID),
		slog.String("error", err.Error()))

	c.state.Disconnected = true
	if isAuthExpired(err) {
		c.expireLocked()
	}
	if c.state.Status.IsTerminal() || c.state.AuthExpired || c.state.ID == "" || c.reconnecting {
		c.publishLocked()
		return
	}

	c.reconnecting = true
	c.state.Reconnecting = true
	c.timer = c.afterFunc(c.reconnectDelay, c.reconnect)
	c.publishLocked()
}

func (c *Controller) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reconnecting {
		return
	}
	c.reconnecting = false
	c.timer = nil
	if c.disposed || c.state.Status.IsTerminal() || c.state.AuthExpired || c.state.ID == "" {
		c.state.Reconnecting = false
		c.publishLocked()
		return
	}
	c.logger.Info("reopening session stream",
		slog.String("session_id", c.state.ID),
		slog.Duration("delay", c.reconnectDelay))
	c.openStreamLocked()
}

// publishLocked hands the current snapshot to every subscriber, replacing any
// snapshot the subscriber has not read yet.
func (c *Controller) publishLocked() {
	s := c.state
	for _, ch := range c.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
