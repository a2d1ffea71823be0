package internal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CallerFunc receives mock input. Inbound-driven mockers get the parsed
// inbound payload; interval mockers get nil on every tick.
type CallerFunc func(ctx context.Context, data any) error

// MockerSpec describes a mocker to install. A spec with neither Caller nor
// Interval deactivates mocking for the session. OnStop, if set, runs once
// when the installed mocker is replaced, cleared or its session closes.
type MockerSpec struct {
	Script   string
	Interval time.Duration
	Caller   CallerFunc
	OnStop   func()
}

// Mocker is the installed automated responder of a session
type Mocker struct {
	Script   string
	Interval time.Duration
	Caller   CallerFunc
	timer    *Timer
	onStop   func()
	stopped  bool
}

// Timer returns the recurring trigger, nil for inbound-driven mockers
func (m *Mocker) Timer() *Timer {
	if m == nil {
		return nil
	}
	return m.timer
}

// InboundDriven reports whether inbound frames drive the caller
func (m *Mocker) InboundDriven() bool {
	return m != nil && m.timer == nil && m.Caller != nil
}

// Stop cancels the recurring trigger if there is one and releases the
// mocker's resources. Later calls are no-ops.
func (m *Mocker) Stop() {
	if m == nil || m.stopped {
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Cancel()
	}
	if m.onStop != nil {
		m.onStop()
	}
}

// Timer is a cancellable recurring-trigger handle. Cancel is synchronous:
// once it returns, Cancelled reports true and Done is closed.
type Timer struct {
	interval  time.Duration
	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

// NewTimer creates an armed Timer
func NewTimer(interval time.Duration) *Timer {
	return &Timer{interval: interval, done: make(chan struct{})}
}

// Interval returns the trigger cadence
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Cancel stops the timer; calling it again is a no-op
func (t *Timer) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called
func (t *Timer) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed on cancellation
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Scheduler starts delivering ticks for t on behalf of session token until
// t is cancelled.
type Scheduler func(token string, t *Timer)

// MockPlayer installs mockers and drives their callers
type MockPlayer struct {
	history  *HistoryStore
	clock    Clock
	schedule Scheduler
}

// NewMockPlayer creates a MockPlayer. history may be nil to skip persisting
// scripts; schedule may be nil when interval mockers are never used.
func NewMockPlayer(history *HistoryStore, clock Clock, schedule Scheduler) *MockPlayer {
	if clock == nil {
		clock = time.Now
	}
	return &MockPlayer{history: history, clock: clock, schedule: schedule}
}

// SetMocker replaces the session's mocker. The previous timer is always
// cancelled first. A script is persisted as mocker history; a persistence
// failure is returned but does not undo the installation.
func (p *MockPlayer) SetMocker(ctx context.Context, s *Session, spec MockerSpec) error {
	if s == nil {
		return ErrSessionNotFound
	}
	s.Mocker.Stop()

	if spec.Caller == nil && spec.Interval <= 0 {
		s.Mocker = nil
		if spec.OnStop != nil {
			spec.OnStop()
		}
		return nil
	}

	m := &Mocker{
		Script:   spec.Script,
		Interval: spec.Interval,
		Caller:   spec.Caller,
		onStop:   spec.OnStop,
	}
	if spec.Interval > 0 {
		m.timer = NewTimer(spec.Interval)
		if p.schedule != nil {
			p.schedule(s.Token, m.timer)
		}
	}
	s.Mocker = m

	if spec.Script == "" || p.history == nil {
		return nil
	}
	return p.rememberScript(ctx, s.Path, spec.Script)
}

// rememberScript keeps one history entry per distinct script, newest first
func (p *MockPlayer) rememberScript(ctx context.Context, path, script string) error {
	existing, err := p.history.Get(ctx, path, KindMocker)
	if err != nil {
		return err
	}
	var stale []HistoryEntry
	for _, e := range existing {
		if e.Content == script {
			stale = append(stale, e)
		}
	}
	if err := p.history.Remove(ctx, path, KindMocker, stale...); err != nil {
		return err
	}
	return p.history.PushFront(ctx, path, KindMocker, HistoryEntry{
		Type:      DetectType(script),
		Timestamp: p.clock().UnixMilli(),
		Content:   script,
	})
}

// Dispatch hands inbound content to an inbound-driven mocker. It returns
// whether a caller ran.
func (p *MockPlayer) Dispatch(ctx context.Context, s *Session, content string) bool {
	if s == nil || !s.Mocker.InboundDriven() {
		return false
	}
	p.invoke(ctx, s.Token, s.Mocker.Caller, Parse(content))
	return true
}

// Fire runs an interval mocker's caller for a tick of t. Ticks from a timer
// that is cancelled or no longer installed are dropped.
func (p *MockPlayer) Fire(ctx context.Context, s *Session, t *Timer) bool {
	if s == nil || s.Mocker == nil || t == nil || s.Mocker.timer != t || t.Cancelled() {
		return false
	}
	if s.Mocker.Caller == nil {
		return false
	}
	p.invoke(ctx, s.Token, s.Mocker.Caller, nil)
	return true
}

func (p *MockPlayer) invoke(ctx context.Context, token string, caller CallerFunc, data any) {
	defer func() {
		if r := recover(); r != nil {
			LogWarn("%v", &MockError{Token: token, Err: fmt.Errorf("caller panic: %v", r)})
		}
	}()
	if err := caller(ctx, data); err != nil {
		LogWarn("%v", &MockError{Token: token, Err: err})
	}
}
