package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist, was deleted, or
	// belongs to a different (app, user) owner. The three cases are reported
	// identically.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidArgument is returned for malformed identifiers, negative
	// recency counts, unsupported state values or duplicate event ids.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned by Create when a caller supplied session id
	// is already taken under the same owner.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrBackend marks storage or transport failures of a concrete backend.
	// Callers own retry policy; stores never retry internally.
	ErrBackend = errors.New("session backend failure")
)

// BackendError wraps an I/O, network or storage failure. It matches both
// ErrBackend and the underlying cause with errors.Is / errors.As.
type BackendError struct {
	Op  string
	Err error
}

// NewBackendError wraps err for operation op.
func NewBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrBackend, e.Op, e.Err)
}

// Unwrap exposes ErrBackend and the cause.
func (e *BackendError) Unwrap() []error { return []error{ErrBackend, e.Err} }

// NotFoundError returns an ErrNotFound error for key. The message names only
// the requested session id so it does not reveal other owners.
func NotFoundError(key SessionKey) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key.SessionID)
}

// InvalidArgumentf formats an ErrInvalidArgument error.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsCallerError reports whether err is caused by the request rather than the
// backend: not found, invalid argument or already exists.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrAlreadyExists)
}

// AlreadyExistsError returns an ErrAlreadyExists error for key.
func AlreadyExistsError(key SessionKey) error {
	return fmt.Errorf("%w: %s", ErrAlreadyExists, key.SessionID)
}
