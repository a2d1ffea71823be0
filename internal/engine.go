package internal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EngineState is everything the event loop mutates
type EngineState struct {
	Registry *Registry
	Ledger   *Ledger
	Mock     *MockPlayer
}

// EventType tags an engine notification
type EventType string

const (
	EventMessage EventType = "message"
	EventCleared EventType = "cleared"
	EventRemoved EventType = "removed"
)

// Event is delivered to observers on the engine loop after a ledger change
type Event struct {
	Type    EventType
	Token   string
	Path    string
	Message Message
}

// Observer receives engine events. It runs on the engine loop and must not
// call blocking Engine methods.
type Observer func(Event)

// Engine runs the session ledger for one transport. All state is owned by
// the goroutine executing Run; the exported methods post work to it.
type Engine struct {
	state     EngineState
	transport Transport
	history   *HistoryStore
	clock     Clock
	policy    SeparatorPolicy
	observers []Observer
	log       zerolog.Logger

	cmds          chan func()
	stopped       chan struct{}
	transportDone chan struct{}
	startOnce     sync.Once

	ctxMu  sync.RWMutex
	runCtx context.Context
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithClock replaces the wall clock
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSeparatorPolicy replaces the default separator thresholds
func WithSeparatorPolicy(p SeparatorPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithObserver registers an observer for ledger events
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEngine creates an Engine reading frames from transport and persisting
// through history. Either may be nil: without a transport every send fails,
// without history nothing is persisted.
func NewEngine(transport Transport, history *HistoryStore, opts ...EngineOption) *Engine {
	e := &Engine{
		transport:     transport,
		history:       history,
		clock:         time.Now,
		policy:        DefaultSeparatorPolicy(),
		log:           Logger().With().Str("component", "engine").Logger(),
		cmds:          make(chan func()),
		stopped:       make(chan struct{}),
		transportDone: make(chan struct{}),
		runCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	ledger := NewLedger(e.policy, e.clock)
	e.state = EngineState{
		Registry: NewRegistry(ledger),
		Ledger:   ledger,
		Mock:     NewMockPlayer(history, e.clock, e.scheduleTicks),
	}
	return e
}

// History returns the history store, which may be nil
func (e *Engine) History() *HistoryStore {
	return e.history
}

// TransportDone is closed once the transport stops delivering frames
func (e *Engine) TransportDone() <-chan struct{} {
	return e.transportDone
}

// Run is the engine loop. It returns when ctx is cancelled; losing the
// transport only closes TransportDone so local sessions stay inspectable.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() { started = true })
	if !started {
		return ErrEngineStopped
	}
	e.ctxMu.Lock()
	e.runCtx = ctx
	e.ctxMu.Unlock()
	defer close(e.stopped)

	var frames <-chan Frame
	if e.transport != nil {
		frames = e.transport.Frames()
	} else {
		close(e.transportDone)
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				frames = nil
				close(e.transportDone)
				e.log.Warn().Msg("transport closed")
				continue
			}
			e.handleFrame(ctx, f)
		case fn := <-e.cmds:
			fn()
		}
	}
}

func (e *Engine) loopContext() context.Context {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.runCtx
}

func (e *Engine) shutdown() {
	for _, s := range e.state.Registry.Sessions() {
		s.Mocker.Stop()
	}
}

// do runs fn on the loop and waits for it
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case e.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrEngineStopped
		}
	}
}

// post queues fn on the loop without waiting. Must not be called from the loop.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.stopped:
	}
}

func (e *Engine) handleFrame(ctx context.Context, f Frame) {
	recordFrameReceived(f.Type)
	log := e.log.With().Str("frame", string(f.Type)).Str("token", f.Token).Logger()

	switch f.Type {
	case FrameConnection:
		if f.Token == "" {
			log.Debug().Msg("ignoring connection frame without token")
			return
		}
		from := 0
		live := false
		if existing := e.state.Registry.Get(f.Token); existing != nil {
			from = len(existing.Messages)
			live = !existing.Disconnected
		}
		s := e.state.Registry.CreateSession(Connection{Token: f.Token, Path: f.Path})
		// a repeated connection for a live session carries messages it already holds
		if !live {
			for _, entry := range f.Messages {
				e.replay(s, entry)
			}
		}
		if e.state.Registry.Active() == nil {
			e.state.Registry.SetActive(s)
		}
		recordSessions(e.state.Registry.Len())
		e.notifyFrom(s, from)
		log.Debug().Str("path", s.Path).Bool("duplicate", live).Int("messages", len(f.Messages)).Msg("session opened")

	case FrameDisconnect:
		s := e.state.Registry.Get(f.Token)
		if s == nil {
			return
		}
		from := len(s.Messages)
		e.state.Registry.CloseSession(f.Token)
		e.notifyFrom(s, from)
		log.Debug().Msg("session closed by peer")

	case FrameData:
		s := e.state.Registry.Get(f.Token)
		if s == nil {
			log.Debug().Msg("ignoring data for unknown session")
			return
		}
		from := len(s.Messages)
		appended, ok := e.state.Ledger.Append(s, AppendRequest{Content: f.Data, From: FromServer, Success: true})
		e.notifyFrom(s, from)
		if ok && e.state.Mock.Dispatch(ctx, s, appended[len(appended)-1].Content) {
			recordMockInvocation("inbound")
		}

	default:
		log.Debug().Msg("ignoring unknown frame")
	}
}

func (e *Engine) replay(s *Session, entry HistoryEntry) {
	from := entry.From
	if !from.Valid() {
		from = FromServer
	}
	var ts time.Time
	if entry.Timestamp > 0 {
		ts = entry.Time()
	}
	e.state.Ledger.Append(s, AppendRequest{
		Content:   entry.Content,
		From:      from,
		Success:   true,
		Timestamp: ts,
		Type:      entry.Type,
	})
}

func (e *Engine) notifyFrom(s *Session, from int) {
	if s == nil || from >= len(s.Messages) {
		return
	}
	for _, msg := range s.Messages[from:] {
		recordMessage(msg)
		e.emit(Event{Type: EventMessage, Token: s.Token, Path: s.Path, Message: msg})
	}
}

func (e *Engine) emit(ev Event) {
	for _, o := range e.observers {
		o(ev)
	}
}

func (e *Engine) sendFrame(ctx context.Context, f Frame) error {
	var err error
	if e.transport == nil {
		err = ErrNoTransport
	} else {
		err = e.transport.Send(ctx, f)
	}
	recordFrameSent(f.Type, err == nil)
	if err != nil {
		return &TransportError{Op: "send", Token: f.Token, Err: err}
	}
	return nil
}

// Send delivers data to the peer on the session's behalf and appends it as
// a client message carrying the outcome. Successful sends are persisted as
// message history for the session's path. A failed send is not an error for
// the caller: the returned message simply has Success == false.
func (e *Engine) Send(ctx context.Context, token string, data any) (Message, bool) {
	sendErr := e.sendFrame(ctx, Frame{Type: FrameData, Token: token, Data: data})
	ok := sendErr == nil
	if !ok {
		e.log.Warn().Err(sendErr).Str("token", token).Msg("send failed")
	}

	var (
		msg      Message
		path     string
		appended bool
	)
	err := e.do(ctx, func() {
		s := e.state.Registry.Get(token)
		if s == nil {
			return
		}
		from := len(s.Messages)
		out, added := e.state.Ledger.Append(s, AppendRequest{Content: data, From: FromClient, Success: ok, Type: outboundType(data)})
		if !added {
			return
		}
		msg, path, appended = out[len(out)-1], s.Path, true
		e.notifyFrom(s, from)
	})
	if err != nil {
		return Message{}, false
	}

	if ok && appended && e.history != nil {
		if err := e.history.PushFront(ctx, path, KindMessage, NewHistoryEntry(msg)); err != nil {
			e.log.Warn().Err(err).Str("path", path).Msg("failed to persist message history")
		}
	}
	return msg, ok
}

// SendMock sends a mock-triggered reply without blocking. The reply is
// appended as a client message but never persisted. Mock callers running on
// the loop must use SendMock rather than Send.
func (e *Engine) SendMock(token string, data any) {
	ctx := e.loopContext()
	go func() {
		sendErr := e.sendFrame(ctx, Frame{Type: FrameData, Token: token, Data: data})
		ok := sendErr == nil
		if !ok {
			e.log.Warn().Err(sendErr).Str("token", token).Msg("mock reply failed")
		}
		e.post(func() {
			s := e.state.Registry.Get(token)
			if s == nil {
				return
			}
			from := len(s.Messages)
			e.state.Ledger.Append(s, AppendRequest{Content: data, From: FromClient, Success: ok, Type: outboundType(data)})
			e.notifyFrom(s, from)
		})
	}()
}

// outboundType records structured outbound values as json, the form they
// take on the wire. Everything else is classified by the ledger.
func outboundType(data any) PayloadType {
	if DetectType(data) == PayloadObject {
		return PayloadJSON
	}
	return ""
}

// Disconnect asks the peer to drop the session and closes it locally
// whatever the outcome. The send error, if any, is returned for reporting.
func (e *Engine) Disconnect(ctx context.Context, token string) error {
	sendErr := e.sendFrame(ctx, Frame{Type: FrameDisconnect, Token: token})
	err := e.do(ctx, func() {
		s := e.state.Registry.Get(token)
		if s == nil {
			return
		}
		from := len(s.Messages)
		e.state.Registry.CloseSession(token)
		e.notifyFrom(s, from)
	})
	if err != nil {
		return err
	}
	return sendErr
}

// ClearMessages notifies the peer best-effort and truncates the local
// ledger to its first entry regardless of the outcome.
func (e *Engine) ClearMessages(ctx context.Context, token string) error {
	sendErr := e.sendFrame(ctx, Frame{Type: FrameClearMessages, Token: token})
	err := e.do(ctx, func() {
		s := e.state.Registry.Get(token)
		if s == nil {
			return
		}
		e.state.Ledger.Truncate(s)
		e.emit(Event{Type: EventCleared, Token: s.Token, Path: s.Path})
	})
	if err != nil {
		return err
	}
	return sendErr
}

// RemoveSession forgets the session. Persisted history is left alone.
func (e *Engine) RemoveSession(ctx context.Context, token string) (bool, error) {
	var removed bool
	err := e.do(ctx, func() {
		s := e.state.Registry.Get(token)
		removed = e.state.Registry.RemoveSession(token)
		if removed {
			recordSessions(e.state.Registry.Len())
			e.emit(Event{Type: EventRemoved, Token: token, Path: s.Path})
		}
	})
	return removed, err
}

// SetActiveSession selects the viewed session
func (e *Engine) SetActiveSession(ctx context.Context, token string) (bool, error) {
	var ok bool
	err := e.do(ctx, func() {
		ok = e.state.Registry.SetActiveSession(token)
	})
	return ok, err
}

// ActiveSession returns a snapshot of the viewed session
func (e *Engine) ActiveSession(ctx context.Context) (*Session, error) {
	var s *Session
	err := e.do(ctx, func() {
		s = e.state.Registry.Active().Clone()
	})
	return s, err
}

// Session returns a snapshot of the session with token, nil if unknown
func (e *Engine) Session(ctx context.Context, token string) (*Session, error) {
	var s *Session
	err := e.do(ctx, func() {
		s = e.state.Registry.Get(token).Clone()
	})
	return s, err
}

// Sessions returns snapshots of every session in creation order
func (e *Engine) Sessions(ctx context.Context) ([]*Session, error) {
	var out []*Session
	err := e.do(ctx, func() {
		// refreshes path#N titles
		e.state.Registry.Groups()
		for _, s := range e.state.Registry.Sessions() {
			out = append(out, s.Clone())
		}
	})
	return out, err
}

// Groups returns session snapshots grouped by path
func (e *Engine) Groups(ctx context.Context) ([]SessionGroup, error) {
	var out []SessionGroup
	err := e.do(ctx, func() {
		for _, g := range e.state.Registry.Groups() {
			cg := SessionGroup{Path: g.Path}
			for _, s := range g.Sessions {
				cg.Sessions = append(cg.Sessions, s.Clone())
			}
			out = append(out, cg)
		}
	})
	return out, err
}

// SetMocker installs or clears the session's mocker. Persisting the script
// may fail; the mocker is installed regardless and the error returned.
func (e *Engine) SetMocker(ctx context.Context, token string, spec MockerSpec) error {
	var setErr error
	err := e.do(ctx, func() {
		s := e.state.Registry.Get(token)
		if s == nil {
			setErr = ErrSessionNotFound
			return
		}
		setErr = e.state.Mock.SetMocker(ctx, s, spec)
	})
	if err != nil {
		return err
	}
	return setErr
}

// scheduleTicks delivers interval ticks to the loop until t is cancelled.
// The tick is checked against the installed timer on the loop, so no tick
// can reach the caller once cancellation has happened there.
func (e *Engine) scheduleTicks(token string, t *Timer) {
	go func() {
		ticker := time.NewTicker(t.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-t.Done():
				return
			case <-e.stopped:
				return
			case <-ticker.C:
				e.post(func() {
					s := e.state.Registry.Get(token)
					if e.state.Mock.Fire(e.loopContext(), s, t) {
						recordMockInvocation("interval")
					}
				})
			}
		}
	}()
}
