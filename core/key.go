package core

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds app names, user ids and session ids.
const MaxIDLength = 256

// Owner is the (app, user) tuple that exclusively owns a set of sessions.
type Owner struct {
	AppName string
	UserID  string
}

// Validate checks both identifiers.
func (o Owner) Validate() error {
	if err := ValidateID("app_name", o.AppName); err != nil {
		return err
	}
	return ValidateID("user_id", o.UserID)
}

// SessionKey addresses one session. Two keys with the same SessionID but a
// different owner name distinct, mutually invisible sessions.
type SessionKey struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Owner returns the owning (app, user) tuple.
func (k SessionKey) Owner() Owner { return Owner{AppName: k.AppName, UserID: k.UserID} }

// String renders app/user/session.
func (k SessionKey) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// Validate checks all three identifiers.
func (k SessionKey) Validate() error {
	if err := k.Owner().Validate(); err != nil {
		return err
	}
	return ValidateID("session_id", k.SessionID)
}

// ValidateID rejects empty, oversized and non UTF-8 identifiers, the dot
// segments "." and "..", and identifiers containing '/' or control
// characters.
func ValidateID(field, id string) error {
	switch {
	case id == "":
		return InvalidArgumentf("%s is required", field)
	case len(id) > MaxIDLength:
		return InvalidArgumentf("%s exceeds %d bytes", field, MaxIDLength)
	case !utf8.ValidString(id):
		return InvalidArgumentf("%s is not valid UTF-8", field)
	case id == "." || id == "..":
		return InvalidArgumentf("%s must not be %q", field, id)
	case strings.ContainsRune(id, '/'):
		return InvalidArgumentf("%s must not contain '/'", field)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return InvalidArgumentf("%s must not contain control characters", field)
	}
	return nil
}
