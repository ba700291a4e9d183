package core

import (
	"time"
)

// Session is the conversational container of one (app, user, session id)
// triple: a persisted StateMap plus an append-only event log.
//
// Contract:
//   - State never holds temp-scoped keys
//   - Apply is the only mutation; it merges the delta and appends the
//     event as one unit or changes nothing
//   - Snapshot and Clone return deep copies safe for independent mutation
//
// Session carries no lock. Backends guard each live aggregate themselves so
// that unrelated sessions never share a mutex.
type Session struct {
	ID        string    `json:"id"`
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	State     StateMap  `json:"state"`
	Events    EventLog  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session for key seeded with the persisted entries of
// seed. This is the initial_state step of the lifecycle.
func NewSession(key SessionKey, seed StateMap, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:        key.SessionID,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     seed.Persisted(),
		Events:    EventLog{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the addressing triple of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (Value, bool) {
	v, ok := s.State[key]
	return v, ok
}

// Apply merges the persisted part of ev's state delta into State and
// appends ev verbatim to the log. A duplicate event id is rejected with
// ErrInvalidArgument before anything changes.
func (s *Session) Apply(ev Event) error {
	if ev.ID == "" {
		return InvalidArgumentf("event id is required")
	}
	if s.Events.Contains(ev.ID) {
		return InvalidArgumentf("duplicate event id %q", ev.ID)
	}
	next := s.State.ApplyDelta(ev.Actions.StateDelta)
	s.State = next
	s.Events.Append(ev.Clone())
	if ev.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = ev.Timestamp
	}
	return nil
}

// Snapshot returns a deep copy with the events selected by f.
func (s *Session) Snapshot(f EventFilter) *Session {
	return &Session{
		ID:        s.ID,
		AppName:   s.AppName,
		UserID:    s.UserID,
		State:     s.State.Persisted(),
		Events:    s.Events.Select(f),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Summary returns a deep copy without events, as reported by List.
func (s *Session) Summary() *Session {
	return &Session{
		ID:        s.ID,
		AppName:   s.AppName,
		UserID:    s.UserID,
		State:     s.State.Persisted(),
		Events:    EventLog{},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Clone returns a deep copy of the whole session.
func (s *Session) Clone() *Session { return s.Snapshot(EventFilter{}) }

// GetEvents returns a copy of the full event log.
func (s *Session) GetEvents() EventLog { return s.Events.clone() }

// ConversationHistory returns the content of every event in order.
func (s *Session) ConversationHistory() []Content { return s.Events.ConversationHistory() }
