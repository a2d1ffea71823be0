package internal

import (
	"testing"
	"time"
)

var ledgerEpoch = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestLedger(clock *ManualClock) *Ledger {
	return NewLedger(DefaultSeparatorPolicy(), clock.Now)
}

func countFrom(messages []Message, from Origin) int {
	n := 0
	for _, m := range messages {
		if m.From == from {
			n++
		}
	}
	return n
}

func TestLedger_FirstAppendInsertsSeparator(t *testing.T) {
	clock := NewManualClock(ledgerEpoch)
	l := newTestLedger(clock)
	s := &Session{Token: "t", Path: "/p", Messages: []Message{}}

	appended, ok := l.Append(s, AppendRequest{Content: "hi", From: FromServer, Success: true})
	if !ok {
		t.Fatal("Append() should succeed")
	}
	if len(appended) != 2 || len(s.Messages) != 2 {
		t.Fatalf("Append() appended %d messages, ledger has %d; want 2 and 2", len(appended), len(s.Messages))
	}
	sep := s.Messages[0]
	if sep.From != FromState || !sep.Success {
		t.Errorf("first message = %+v, want successful state separator", sep)
	}
	if sep.Content != "09:30" {
		t.Errorf("separator content = %q, want %q", sep.Content, "09:30")
	}
	if s.Messages[1].From != FromServer || s.Messages[1].Content != "hi" {
		t.Errorf("second message = %+v, want the server message", s.Messages[1])
	}
}

func TestLedger_SeparatorPolicy(t *testing.T) {
	tests := []struct {
		name          string
		between       int           // real messages appended after the state marker
		gap           time.Duration // time between the marker and the next append
		wantSeparator bool
	}{
		{name: "short gap few messages", between: 0, gap: 61 * time.Second, wantSeparator: false},
		{name: "short gap three messages", between: 3, gap: 61 * time.Second, wantSeparator: false},
		{name: "short gap four messages", between: 4, gap: 61 * time.Second, wantSeparator: true},
		{name: "under a minute many messages", between: 10, gap: 59 * time.Second, wantSeparator: false},
		{name: "exactly a minute many messages", between: 10, gap: time.Minute, wantSeparator: false},
		{name: "long gap no messages", between: 0, gap: 51 * time.Minute, wantSeparator: true},
		{name: "long gap some messages", between: 2, gap: 51 * time.Minute, wantSeparator: true},
		{name: "exactly fifty minutes", between: 0, gap: 50 * time.Minute, wantSeparator: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock(ledgerEpoch)
			l := newTestLedger(clock)
			s := &Session{Token: "t", Messages: []Message{}}
			l.AppendState(s, "connected at 09:30", clock.Now())

			for i := 0; i < tt.between; i++ {
				if _, ok := l.Append(s, AppendRequest{Content: "m", From: FromServer, Success: true}); !ok {
					t.Fatal("Append() failed")
				}
			}
			if got := countFrom(s.Messages, FromState); got != 1 {
				t.Fatalf("setup inserted %d state messages, want 1", got)
			}

			clock.Advance(tt.gap)
			before := len(s.Messages)
			l.Append(s, AppendRequest{Content: "next", From: FromClient, Success: true})

			added := len(s.Messages) - before
			gotSeparator := added == 2
			if gotSeparator != tt.wantSeparator {
				t.Errorf("separator inserted = %v, want %v", gotSeparator, tt.wantSeparator)
			}
			if gotSeparator && s.Messages[before].From != FromState {
				t.Errorf("separator should precede the message, got %+v", s.Messages[before])
			}
		})
	}
}

func TestLedger_ConfigurablePolicy(t *testing.T) {
	clock := NewManualClock(ledgerEpoch)
	l := NewLedger(SeparatorPolicy{LongGap: 10 * time.Second, ShortGap: time.Second, MinMessages: 1}, clock.Now)
	s := &Session{Messages: []Message{}}
	l.AppendState(s, "connected", clock.Now())

	clock.Advance(11 * time.Second)
	l.Append(s, AppendRequest{Content: "a", From: FromServer, Success: true})
	if got := countFrom(s.Messages, FromState); got != 2 {
		t.Errorf("state messages = %d, want 2 after exceeding LongGap", got)
	}
}

func TestLedger_RejectsInvalidInput(t *testing.T) {
	clock := NewManualClock(ledgerEpoch)
	l := newTestLedger(clock)

	if _, ok := l.Append(nil, AppendRequest{Content: "x", From: FromClient}); ok {
		t.Error("Append(nil) should be rejected")
	}

	s := &Session{Messages: []Message{}}
	for _, from := range []Origin{"", "peer", "CLIENT"} {
		if _, ok := l.Append(s, AppendRequest{Content: "x", From: from}); ok {
			t.Errorf("Append() with origin %q should be rejected", from)
		}
	}
	if len(s.Messages) != 0 {
		t.Errorf("rejected appends mutated the ledger: %d messages", len(s.Messages))
	}
}

func TestLedger_AppendClassifiesAndKeys(t *testing.T) {
	clock := NewManualClock(ledgerEpoch)
	l := newTestLedger(clock)
	s := &Session{Messages: []Message{}}

	l.Append(s, AppendRequest{Content: `{"x":1}`, From: FromServer, Success: true})
	l.Append(s, AppendRequest{Content: map[string]any{"y": 2}, From: FromServer, Success: true})
	l.Append(s, AppendRequest{Content: "plain", From: FromClient, Success: false})

	real := s.Messages[1:]
	wantTypes := []PayloadType{PayloadJSON, PayloadObject, PayloadText}
	for i, want := range wantTypes {
		if real[i].Type != want {
			t.Errorf("message %d type = %v, want %v", i, real[i].Type, want)
		}
	}
	if real[2].Success {
		t.Error("failed client message should keep Success = false")
	}

	seen := make(map[string]bool)
	for _, m := range s.Messages {
		if m.Key == "" {
			t.Error("message without key")
		}
		if seen[m.Key] {
			t.Errorf("duplicate key %s", m.Key)
		}
		seen[m.Key] = true
	}
}

func TestLedger_ExplicitType(t *testing.T) {
	l := newTestLedger(NewManualClock(ledgerEpoch))
	s := &Session{Messages: []Message{}}

	out, _ := l.Append(s, AppendRequest{Content: map[string]any{"y": 2}, From: FromClient, Success: true, Type: PayloadJSON})
	msg := out[len(out)-1]
	if msg.Type != PayloadJSON || msg.Content != `{"y":2}` {
		t.Errorf("Append() = %+v, want json with canonical content", msg)
	}
	if _, ok := msg.Value.(map[string]any); !ok {
		t.Errorf("Value = %#v, want parsed mapping", msg.Value)
	}
}

func TestLedger_SuppliedTimestamp(t *testing.T) {
	clock := NewManualClock(ledgerEpoch)
	l := newTestLedger(clock)
	s := &Session{Messages: []Message{}}

	old := ledgerEpoch.Add(-2 * time.Hour)
	l.Append(s, AppendRequest{Content: "replayed", From: FromServer, Success: true, Timestamp: old})
	if !s.Messages[1].Timestamp.Equal(old) {
		t.Errorf("timestamp = %v, want %v", s.Messages[1].Timestamp, old)
	}
	if !s.Messages[0].Timestamp.Equal(old) {
		t.Errorf("separator timestamp = %v, want %v", s.Messages[0].Timestamp, old)
	}
}

func TestLedger_StateMessagesAlwaysSucceed(t *testing.T) {
	l := newTestLedger(NewManualClock(ledgerEpoch))
	s := &Session{Messages: []Message{}}
	l.Append(s, AppendRequest{Content: "note", From: FromState, Success: false})
	for _, m := range s.Messages {
		if m.From == FromState && !m.Success {
			t.Errorf("state message %+v has Success = false", m)
		}
	}
}

func TestLedger_Truncate(t *testing.T) {
	l := newTestLedger(NewManualClock(ledgerEpoch))
	s := CreateTestSession("tok", "/echo")
	first := s.Messages[0]
	snapshot := s.Messages

	l.Truncate(s)
	if len(s.Messages) != 1 || s.Messages[0].Key != first.Key {
		t.Errorf("Truncate() left %+v, want only the first message", s.Messages)
	}
	if len(snapshot) != 3 {
		t.Error("Truncate() should not modify slices shared with earlier snapshots")
	}

	empty := &Session{}
	l.Truncate(empty)
	l.Truncate(nil)
}
