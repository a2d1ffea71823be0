package internal

import (
	"encoding/json"
	"reflect"
	"time"
)

// Origin identifies who produced a message
type Origin string

const (
	FromClient Origin = "client"
	FromServer Origin = "server"
	FromState  Origin = "state"
	FromMock   Origin = "mock"
)

// Valid reports whether o is one of the four known origins
func (o Origin) Valid() bool {
	switch o {
	case FromClient, FromServer, FromState, FromMock:
		return true
	}
	return false
}

// Connection is the payload of an inbound connection frame
type Connection struct {
	Token    string         `json:"token"`
	Path     string         `json:"path"`
	Messages []HistoryEntry `json:"messages,omitempty"`
}

// Session is one logical debug session against the peer
type Session struct {
	Token          string     `json:"token" yaml:"token"`
	Path           string     `json:"path" yaml:"path"`
	Title          string     `json:"title,omitempty" yaml:"title,omitempty"`
	Disconnected   bool       `json:"disconnected" yaml:"disconnected"`
	CloseTimestamp *time.Time `json:"close_timestamp,omitempty" yaml:"close_timestamp,omitempty"`
	Messages       []Message  `json:"messages" yaml:"messages"`
	Mocker         *Mocker    `json:"-" yaml:"-"`
}

// Message is one ledger entry
type Message struct {
	Key       string      `json:"key" yaml:"key"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Content   string      `json:"content" yaml:"content"`
	Type      PayloadType `json:"type" yaml:"type"`
	From      Origin      `json:"from" yaml:"from"`
	Success   bool        `json:"success" yaml:"success"`
	Value     any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// Mocking reports whether the session has an installed mocker
func (s *Session) Mocking() bool {
	return s != nil && s.Mocker != nil
}

// LastMessage returns the newest ledger entry
func (s *Session) LastMessage() (Message, bool) {
	if s == nil || len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a copy of the session that shares nothing mutable with the
// original, message values included. The mocker is reduced to its script so snapshots cannot drive it.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.CloseTimestamp != nil {
		ts := *s.CloseTimestamp
		c.CloseTimestamp = &ts
	}
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	for i := range c.Messages {
		c.Messages[i].Value = cloneValue(c.Messages[i].Value)
	}
	if s.Mocker != nil {
		c.Mocker = &Mocker{Script: s.Mocker.Script, Interval: s.Mocker.Interval}
	}
	return &c
}

// cloneValue deep-copies decoded JSON values. Other maps, slices and
// pointers are detached by a JSON round trip; plain values are returned as is.
func cloneValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Struct:
		return Parse(Stringify(v))
	}
	return v
}

// SessionFromHistory builds a read-only transcript from persisted entries.
// Entries are stored newest first; the transcript is oldest first.
func SessionFromHistory(path string, kind HistoryKind, entries []HistoryEntry) *Session {
	from := FromClient
	if kind == KindMocker {
		from = FromMock
	}
	s := &Session{
		Token:    HistoryKey(path, kind),
		Path:     path,
		Title:    path + " (" + string(kind) + " history)",
		Messages: make([]Message, 0, len(entries)),
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		s.Messages = append(s.Messages, Message{
			Key:       e.Key(),
			Timestamp: e.Time(),
			Content:   e.Content,
			Type:      e.Type,
			From:      from,
			Success:   true,
		})
	}
	return s
}
