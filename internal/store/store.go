// Package store keeps a bounded in-process log of what happened on each
// session, served by the admin API.
package store

import (
	"sort"
	"sync"
	"time"
)

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Session struct {
	ID        string     `json:"session_id"`
	DeviceID  string     `json:"device_id"`
	ClientID  string     `json:"client_id,omitempty"`
	RemoteIP  string     `json:"remote_ip,omitempty"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

const (
	maxEvents = 200
	// closed sessions are forgotten after this long
	retainClosed = 30 * time.Minute
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]Event
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		events:   make(map[string][]Event),
		now:      time.Now,
	}
}

// CreateSession records sess, replacing any previous record with its id.
func (s *Store) CreateSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	s.sessions[sess.ID] = &sess
	s.events[sess.ID] = nil
}

func (s *Store) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *Store) SetState(id, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	sess.State = state
	if state == "CLOSED" {
		t := s.now().UTC()
		sess.ClosedAt = &t
	}
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) Event {
	evt := Event{Type: typ, Ts: s.now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], evt)
	if l := len(s.events[sessionID]); l > maxEvents {
		// keep room for a single truncation marker
		keep := maxEvents - 1
		s.events[sessionID] = append([]Event(nil), s.events[sessionID][l-keep:]...)
		s.events[sessionID] = append(s.events[sessionID], Event{
			Type:    "events_truncated",
			Ts:      evt.Ts,
			Payload: map[string]any{"dropped": l - keep, "kept": keep},
		})
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// ListSessions returns all known sessions, oldest first.
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) gcLocked() {
	cutoff := s.now().Add(-retainClosed)
	for id, sess := range s.sessions {
		if sess.ClosedAt != nil && sess.ClosedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.events, id)
		}
	}
}
