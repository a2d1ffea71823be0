package internal

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// TimeOfDayLayout is the HH:mm layout used by state messages
const TimeOfDayLayout = "15:04"

// SeparatorPolicy decides when a time separator is injected before a message
type SeparatorPolicy struct {
	// LongGap always forces a separator once exceeded
	LongGap time.Duration
	// ShortGap forces a separator only when more than MinMessages entries
	// follow the last state message
	ShortGap    time.Duration
	MinMessages int
}

// DefaultSeparatorPolicy returns the stock thresholds: 50 minutes, 1 minute, 3 messages
func DefaultSeparatorPolicy() SeparatorPolicy {
	return SeparatorPolicy{
		LongGap:     50 * time.Minute,
		ShortGap:    time.Minute,
		MinMessages: 3,
	}
}

// NeedsSeparator reports whether a separator goes before a message at now.
// lastState is the index of the newest state message (-1 when none), total
// the current ledger length.
func (p SeparatorPolicy) NeedsSeparator(lastState int, lastStateAt time.Time, total int, now time.Time) bool {
	if lastState < 0 {
		return true
	}
	gap := now.Sub(lastStateAt)
	if gap > p.LongGap {
		return true
	}
	since := total - 1 - lastState
	return gap > p.ShortGap && since > p.MinMessages
}

// AppendRequest describes a message to append to a session ledger
type AppendRequest struct {
	Content any
	From    Origin
	Success bool
	// Timestamp overrides the ledger clock, e.g. for replayed history
	Timestamp time.Time
	// Type skips classification when already known
	Type PayloadType
}

// Ledger appends messages to session logs and applies the separator policy
type Ledger struct {
	policy SeparatorPolicy
	clock  Clock
	newKey func() string
}

// NewLedger creates a new Ledger
func NewLedger(policy SeparatorPolicy, clock Clock) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		policy: policy,
		clock:  clock,
		newKey: uuid.NewString,
	}
}

// Policy returns the separator policy in effect
func (l *Ledger) Policy() SeparatorPolicy {
	return l.policy
}

// Now returns the ledger clock's current time
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Append adds a message to the session, preceded by a separator when the
// policy asks for one. It returns every message it appended, separator
// first. Nothing is appended for a nil session or an unknown origin.
func (l *Ledger) Append(s *Session, req AppendRequest) ([]Message, bool) {
	if s == nil || !req.From.Valid() {
		return nil, false
	}

	now := req.Timestamp
	if now.IsZero() {
		now = l.clock()
	}

	var appended []Message
	idx, last := lastStateMessage(s.Messages)
	if l.policy.NeedsSeparator(idx, last.Timestamp, len(s.Messages), now) {
		appended = append(appended, l.AppendState(s, now.Format(TimeOfDayLayout), now))
	}

	msg := Message{
		Key:       l.newKey(),
		Timestamp: now,
		From:      req.From,
		Success:   req.Success || req.From == FromState,
	}
	if req.Type.Valid() {
		msg.Type = req.Type
		msg.Content = Stringify(req.Content)
		switch req.Type {
		case PayloadJSON:
			msg.Value = Parse(msg.Content)
		case PayloadObject:
			msg.Value = req.Content
		}
	} else {
		p := Classify(req.Content)
		msg.Type = p.Type
		msg.Content = p.Text
		msg.Value = p.Value
	}

	s.Messages = append(s.Messages, msg)
	appended = append(appended, msg)
	return appended, true
}

// AppendState appends a state message without consulting the policy
func (l *Ledger) AppendState(s *Session, content string, ts time.Time) Message {
	if ts.IsZero() {
		ts = l.clock()
	}
	msg := Message{
		Key:       l.newKey(),
		Timestamp: ts,
		Content:   content,
		Type:      PayloadText,
		From:      FromState,
		Success:   true,
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// Truncate drops everything but the first ledger entry
func (l *Ledger) Truncate(s *Session) {
	if s == nil || len(s.Messages) <= 1 {
		return
	}
	s.Messages = []Message{s.Messages[0]}
}

func lastStateMessage(messages []Message) (int, Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].From == FromState {
			return i, messages[i]
		}
	}
	return -1, Message{}
}
