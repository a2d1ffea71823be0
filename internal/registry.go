package internal

import (
	"fmt"
	"time"
)

// Registry owns the live sessions, keyed by token. Tokens are few (one per
// human-driven debug connection) so lookups scan the slice.
type Registry struct {
	ledger   *Ledger
	sessions []*Session
	active   *Session
}

// SessionGroup is the set of sessions sharing one path
type SessionGroup struct {
	Path     string
	Sessions []*Session
}

// NewRegistry creates an empty Registry writing state markers through ledger
func NewRegistry(ledger *Ledger) *Registry {
	return &Registry{ledger: ledger}
}

// CreateSession opens a session for conn. A disconnected session with the
// same token is reactivated in place; a live one is returned unchanged.
func (r *Registry) CreateSession(conn Connection) *Session {
	now := r.ledger.Now()

	if s := r.Get(conn.Token); s != nil {
		if s.Disconnected {
			s.Disconnected = false
			s.CloseTimestamp = nil
			if conn.Path != "" {
				s.Path = conn.Path
			}
			r.ledger.AppendState(s, stateMessage("reconnected", now), now)
		}
		return s
	}

	s := &Session{
		Token:    conn.Token,
		Path:     conn.Path,
		Title:    conn.Path,
		Messages: []Message{},
	}
	r.ledger.AppendState(s, stateMessage("connected", now), now)
	r.sessions = append(r.sessions, s)
	return s
}

// CloseSession marks the session disconnected and stops its mocker
func (r *Registry) CloseSession(token string) *Session {
	s := r.Get(token)
	if s == nil {
		return nil
	}
	now := r.ledger.Now()
	s.Disconnected = true
	s.CloseTimestamp = &now
	if s.Mocker != nil {
		s.Mocker.Stop()
		s.Mocker = nil
	}
	r.ledger.AppendState(s, stateMessage("disconnected", now), now)
	return s
}

// RemoveSession deletes the session. Removing an unknown token is a no-op.
func (r *Registry) RemoveSession(token string) bool {
	for i, s := range r.sessions {
		if s.Token != token {
			continue
		}
		if s.Mocker != nil {
			s.Mocker.Stop()
			s.Mocker = nil
		}
		if r.active == s {
			r.active = nil
		}
		r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
		return true
	}
	return false
}

// SetActiveSession points the viewed session at token. An unknown token
// leaves the pointer unchanged.
func (r *Registry) SetActiveSession(token string) bool {
	s := r.Get(token)
	if s == nil {
		return false
	}
	r.active = s
	return true
}

// SetActive points the viewed session at s (nil clears it)
func (r *Registry) SetActive(s *Session) {
	r.active = s
}

// Active returns the currently viewed session, if any
func (r *Registry) Active() *Session {
	return r.active
}

// Get returns the session with token, or nil
func (r *Registry) Get(token string) *Session {
	if token == "" {
		return nil
	}
	for _, s := range r.sessions {
		if s.Token == token {
			return s
		}
	}
	return nil
}

// Sessions returns the sessions in creation order
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Groups groups sessions by path in first-seen order and assigns display
// titles: the bare path for a lone session, path#N when a path is shared.
func (r *Registry) Groups() []SessionGroup {
	var groups []SessionGroup
	index := make(map[string]int)
	for _, s := range r.sessions {
		i, ok := index[s.Path]
		if !ok {
			i = len(groups)
			index[s.Path] = i
			groups = append(groups, SessionGroup{Path: s.Path})
		}
		groups[i].Sessions = append(groups[i].Sessions, s)
	}

	for _, g := range groups {
		if len(g.Sessions) == 1 {
			g.Sessions[0].Title = g.Path
			continue
		}
		for i, s := range g.Sessions {
			s.Title = fmt.Sprintf("%s#%d", g.Path, i+1)
		}
	}
	return groups
}

func stateMessage(event string, at time.Time) string {
	return fmt.Sprintf("%s at %s", event, at.Format(TimeOfDayLayout))
}
