package core

import (
	"context"
	"sort"
	"time"
)

// CreateRequest creates a session for (AppName, UserID). An empty SessionID
// asks the store to generate one; a caller supplied id that already exists
// under the same owner fails with ErrAlreadyExists.
type CreateRequest struct {
	AppName   string   `json:"app_name"`
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id,omitempty"`
	State     StateMap `json:"state,omitempty"`
}

// Owner returns the owning tuple of the request.
func (r CreateRequest) Owner() Owner { return Owner{AppName: r.AppName, UserID: r.UserID} }

// Validate checks the owner and, when present, the session id.
func (r CreateRequest) Validate() error {
	if err := r.Owner().Validate(); err != nil {
		return err
	}
	if r.SessionID != "" {
		return ValidateID("session_id", r.SessionID)
	}
	return nil
}

// GetRequest fetches one session snapshot. NumRecentEvents and After are
// optional event-log filters (zero means absent).
type GetRequest struct {
	AppName         string    `json:"app_name"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	NumRecentEvents int       `json:"num_recent_events,omitempty"`
	After           time.Time `json:"after,omitempty"`
}

// Key returns the addressed session key.
func (r GetRequest) Key() SessionKey {
	return SessionKey{AppName: r.AppName, UserID: r.UserID, SessionID: r.SessionID}
}

// Filter returns the event filter of the request.
func (r GetRequest) Filter() EventFilter {
	return EventFilter{NumRecentEvents: r.NumRecentEvents, After: r.After}
}

// Validate checks the key and the filter.
func (r GetRequest) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	return r.Filter().Validate()
}

// ListRequest lists the sessions of exactly one (AppName, UserID) owner.
type ListRequest struct {
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`
}

// Owner returns the owning tuple of the request.
func (r ListRequest) Owner() Owner { return Owner{AppName: r.AppName, UserID: r.UserID} }

// Validate checks the owner.
func (r ListRequest) Validate() error { return r.Owner().Validate() }

// DeleteRequest removes one session.
type DeleteRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Key returns the addressed session key.
func (r DeleteRequest) Key() SessionKey {
	return SessionKey{AppName: r.AppName, UserID: r.UserID, SessionID: r.SessionID}
}

// Validate checks the key.
func (r DeleteRequest) Validate() error { return r.Key().Validate() }

// SessionStore persists sessions and their evolving state / event history.
// Every backend implements it with identical observable behavior:
//
//   - Sessions are partitioned by (AppName, UserID); no operation under one
//     owner observes, lists or mutates a session of another owner, even when
//     session ids collide. Ownership mismatch surfaces as ErrNotFound.
//   - AppendEvent is the only mutation path. Appends to one session are
//     serialized and applied to state and log as a unit.
//   - Returned sessions are snapshots; mutating them never affects the store.
//   - Temp-scoped keys never appear in returned or stored state.
//   - Partial (streaming) events are not persisted.
//   - Backend failures are returned as *BackendError and never retried.
type SessionStore interface {
	// Create stores a new session seeded with req.State (temp keys dropped).
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	// Get returns a snapshot filtered by the optional event-log window.
	Get(ctx context.Context, req GetRequest) (*Session, error)
	// List returns every session of the owner with state but without events,
	// ordered by creation time then id. An owner with no sessions yields an
	// empty slice.
	List(ctx context.Context, req ListRequest) ([]*Session, error)
	// AppendEvent merges ev's state delta and appends ev, returning the
	// updated session.
	AppendEvent(ctx context.Context, key SessionKey, ev Event) (*Session, error)
	// Delete removes the session. Deleting an absent session returns
	// ErrNotFound.
	Delete(ctx context.Context, req DeleteRequest) error
}

// SortSessions orders sessions by CreatedAt then ID, the order List reports.
func SortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
