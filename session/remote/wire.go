package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/hupe1980/sessionmesh/core"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeNotFound             = "not_found"
	CodeInvalidArgument      = "invalid_argument"
	CodeAlreadyExists        = "already_exists"
	CodeBackend              = "backend_error"
	CodeCanceled             = "canceled"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeInternal             = "internal"
)

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSessionBody is the payload of POST .../sessions.
type CreateSessionBody struct {
	SessionID string        `json:"session_id,omitempty"`
	State     core.StateMap `json:"state,omitempty"`
}

// ListSessionsBody is the payload returned by GET .../sessions.
type ListSessionsBody struct {
	Sessions []*core.Session `json:"sessions"`
}

// Query parameters of GET .../sessions/{session}.
const (
	paramNumRecentEvents = "num_recent_events"
	paramAfter           = "after"
)

// errorStatus maps a store error to its HTTP status and wire code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, core.ErrBackend):
		return http.StatusBadGateway, CodeBackend
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// sentinelFor maps a caller error code back to its core sentinel.
func sentinelFor(code string) (error, bool) {
	switch code {
	case CodeNotFound:
		return core.ErrNotFound, true
	case CodeInvalidArgument:
		return core.ErrInvalidArgument, true
	case CodeAlreadyExists:
		return core.ErrAlreadyExists, true
	default:
		return nil, false
	}
}
