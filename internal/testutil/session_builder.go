package testutil

import (
	"time"

	"github.com/hupe1980/sessionmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Owner("app", "u1").State("k", "v").Events(ev1, ev2).Build()
type SessionBuilder struct {
	key     core.SessionKey
	state   map[string]any
	events  []core.Event
	created time.Time
}

// NewSessionBuilder creates a new builder for a session with the given id,
// owned by ("app", "user") unless Owner is called.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{
		key:     core.SessionKey{AppName: "app", UserID: "user", SessionID: id},
		state:   map[string]any{},
		created: time.Now().UTC(),
	}
}

// Owner sets the owning app and user (chainable).
func (b *SessionBuilder) Owner(app, user string) *SessionBuilder {
	b.key.AppName, b.key.UserID = app, user
	return b
}

// CreatedAt sets the creation timestamp (chainable).
func (b *SessionBuilder) CreatedAt(ts time.Time) *SessionBuilder { b.created = ts; return b }

// State sets or overwrites a seed state key/value pair (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Event appends a single event to the session history (chainable).
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)
	return b
}

// Events appends multiple events to the session history (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Key returns the session key being built.
func (b *SessionBuilder) Key() core.SessionKey { return b.key }

// CreateRequest returns the request that creates the session with its
// seed state. Events are not part of it.
func (b *SessionBuilder) CreateRequest() core.CreateRequest {
	return core.CreateRequest{
		AppName:   b.key.AppName,
		UserID:    b.key.UserID,
		SessionID: b.key.SessionID,
		State:     core.MustState(b.state),
	}
}

// Build returns a *core.Session with the seed state and every event applied
// in order. It panics if an event is rejected.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.key, core.MustState(b.state), b.created)
	for _, ev := range b.events {
		if err := s.Apply(core.PrepareEvent(ev, b.created)); err != nil {
			panic(err)
		}
	}
	return s
}
