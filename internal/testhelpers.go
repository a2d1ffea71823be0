package internal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CreateTestSession creates a test session with a short transcript
func CreateTestSession(token, path string) *Session {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &Session{
		Token: token,
		Path:  path,
		Title: path,
		Messages: []Message{
			{Key: token + "-0", Timestamp: at, Content: "connected at 10:00", Type: PayloadText, From: FromState, Success: true},
			{Key: token + "-1", Timestamp: at.Add(time.Second), Content: "hello", Type: PayloadText, From: FromClient, Success: true},
			{Key: token + "-2", Timestamp: at.Add(2 * time.Second), Content: `{"x":1}`, Type: PayloadJSON, From: FromServer, Success: true, Value: map[string]any{"x": float64(1)}},
		},
	}
}

// CreateTestSessionWithMessages creates a test session with custom messages
func CreateTestSessionWithMessages(token, path string, messages []Message) *Session {
	return &Session{
		Token:    token,
		Path:     path,
		Title:    path,
		Messages: messages,
	}
}

// ManualClock is a Clock that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ErrFakeSendFailed is returned by FakeTransport.Send when failing
var ErrFakeSendFailed = errors.New("fake send failed")

// FakeTransport is an in-memory Transport for tests. Deliver feeds inbound
// frames; Sent records outbound ones.
type FakeTransport struct {
	mu     sync.Mutex
	frames chan Frame
	sent   []Frame
	fail   bool
	closed bool
}

// NewFakeTransport creates an open FakeTransport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{frames: make(chan Frame, 64)}
}

// Deliver queues an inbound frame. Frames delivered after Close are dropped.
func (f *FakeTransport) Deliver(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.frames <- fr
}

// SetFailing makes every later Send fail (or succeed again)
func (f *FakeTransport) SetFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// Sent returns a copy of the outbound frames
func (f *FakeTransport) Sent() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeTransport) Send(_ context.Context, fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return ErrFakeSendFailed
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *FakeTransport) Frames() <-chan Frame {
	return f.frames
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}
