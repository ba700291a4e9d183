package remote

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 8 << 20

const sessionsPath = "/v1/apps/{app}/users/{user}/sessions"

// HandlerOptions configure a Handler.
type HandlerOptions struct {
	Logger       logging.Logger
	MaxBodyBytes int64
}

// WithHandlerLogger sets the request logger.
func WithHandlerLogger(l logging.Logger) func(o *HandlerOptions) {
	return func(o *HandlerOptions) { o.Logger = l }
}

// Handler serves a core.SessionStore over HTTP.
type Handler struct {
	store core.SessionStore
	mux   *http.ServeMux
	opts  HandlerOptions
}

// NewHandler returns a handler exposing store.
func NewHandler(store core.SessionStore, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		Logger:       logging.NoOpLogger{},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	h := &Handler{store: store, mux: http.NewServeMux(), opts: opts}
	h.mux.HandleFunc("POST "+sessionsPath, h.createSession)
	h.mux.HandleFunc("GET "+sessionsPath, h.listSessions)
	h.mux.HandleFunc("GET "+sessionsPath+"/{session}", h.getSession)
	h.mux.HandleFunc("DELETE "+sessionsPath+"/{session}", h.deleteSession)
	h.mux.HandleFunc("POST "+sessionsPath+"/{session}/events", h.appendEvent)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)

	args := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)}
	if rec.status >= http.StatusInternalServerError {
		h.opts.Logger.Error("request failed", args...)
		return
	}
	h.opts.Logger.Debug("request served", args...)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionBody
	if !h.decode(w, r, &body) {
		return
	}
	sess, err := h.store.Create(r.Context(), core.CreateRequest{
		AppName:   r.PathValue("app"),
		UserID:    r.PathValue("user"),
		SessionID: body.SessionID,
		State:     body.State,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, r, http.StatusCreated, sess)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), core.ListRequest{
		AppName: r.PathValue("app"),
		UserID:  r.PathValue("user"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*core.Session{}
	}
	h.write(w, r, http.StatusOK, ListSessionsBody{Sessions: list})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	req := core.GetRequest{
		AppName:   r.PathValue("app"),
		UserID:    r.PathValue("user"),
		SessionID: r.PathValue("session"),
	}
	q := r.URL.Query()
	if v := q.Get(paramNumRecentEvents); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, core.InvalidArgumentf("%s must be an integer", paramNumRecentEvents))
			return
		}
		req.NumRecentEvents = n
	}
	if v := q.Get(paramAfter); v != "" {
		after, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			h.writeError(w, r, core.InvalidArgumentf("%s must be an RFC 3339 timestamp", paramAfter))
			return
		}
		req.After = after
	}

	sess, err := h.store.Get(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, r, http.StatusOK, sess)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), core.DeleteRequest{
		AppName:   r.PathValue("app"),
		UserID:    r.PathValue("user"),
		SessionID: r.PathValue("session"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appendEvent(w http.ResponseWriter, r *http.Request) {
	var ev core.Event
	if !h.decode(w, r, &ev) {
		return
	}
	key := core.SessionKey{
		AppName:   r.PathValue("app"),
		UserID:    r.PathValue("user"),
		SessionID: r.PathValue("session"),
	}
	sess, err := h.store.AppendEvent(r.Context(), key, ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, r, http.StatusOK, sess)
}

// decode reads the request body with the codec named by Content-Type. It
// writes the error response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	c, ok := codecForContentType(r.Header.Get("Content-Type"))
	if !ok {
		h.write(w, r, http.StatusUnsupportedMediaType, ErrorBody{
			Code:    CodeUnsupportedMediaType,
			Message: "unsupported content type " + r.Header.Get("Content-Type"),
		})
		return false
	}
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := c.Decode(body, v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, core.InvalidArgumentf("malformed request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.opts.Logger.Error("store operation failed", "path", r.URL.Path, "code", code, "error", err.Error())
	}
	h.write(w, r, status, ErrorBody{Code: code, Message: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	c := codecForAccept(r.Header.Get("Accept"))
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(status)
	if err := c.Encode(w, v); err != nil {
		h.opts.Logger.Warn("failed to write response", "path", r.URL.Path, "error", err.Error())
	}
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
