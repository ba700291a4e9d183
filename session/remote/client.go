package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// ClientOptions configure a Client.
type ClientOptions struct {
	// HTTPClient performs the requests. Defaults to NewHTTPClient(30s).
	HTTPClient *http.Client
	// Codec encodes request bodies and is requested for responses.
	Codec Codec
	// Logger receives one entry per operation.
	Logger logging.Logger
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) func(o *ClientOptions) {
	return func(o *ClientOptions) { o.HTTPClient = c }
}

// WithCodec sets the wire codec.
func WithCodec(c Codec) func(o *ClientOptions) {
	return func(o *ClientOptions) { o.Codec = c }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l logging.Logger) func(o *ClientOptions) {
	return func(o *ClientOptions) { o.Logger = l }
}

// NewHTTPClient returns an HTTP client that does not follow redirects. A
// redirect would turn POST and DELETE into GET on another resource; the
// Client reports it as a backend error instead.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Client is a core.SessionStore backed by a remote Handler.
type Client struct {
	base *url.URL
	opts ClientOptions
}

// Compile-time interface check.
var _ core.SessionStore = (*Client)(nil)

// NewClient returns a client for the server at baseURL (scheme and host,
// optionally a path prefix).
func NewClient(baseURL string, optFns ...func(o *ClientOptions)) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	opts := ClientOptions{
		HTTPClient: NewHTTPClient(30 * time.Second),
		Codec:      JSON,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(0)
	}
	if opts.Codec == nil {
		opts.Codec = JSON
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Client{base: u, opts: opts}, nil
}

func (c *Client) observe(op string, start time.Time, err error, args ...any) {
	logging.LogStoreOp(c.opts.Logger, "remote", op, time.Since(start), err, core.IsCallerError, args...)
}

// endpoint appends already escaped path segments to the base URL.
func (c *Client) endpoint(segments ...string) *url.URL {
	u := *c.base
	escaped := u.EscapedPath()
	for _, seg := range segments {
		escaped += "/" + seg
	}
	u.RawPath = escaped
	u.Path, _ = url.PathUnescape(escaped)
	return &u
}

func (c *Client) sessionsURL(app, user string) *url.URL {
	return c.endpoint("v1", "apps", url.PathEscape(app), "users", url.PathEscape(user), "sessions")
}

func (c *Client) sessionURL(key core.SessionKey, suffix ...string) *url.URL {
	segments := []string{"v1", "apps", url.PathEscape(key.AppName), "users", url.PathEscape(key.UserID), "sessions", url.PathEscape(key.SessionID)}
	return c.endpoint(append(segments, suffix...)...)
}

// Create implements core.SessionStore.
func (c *Client) Create(ctx context.Context, req core.CreateRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { c.observe("create", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	body := CreateSessionBody{SessionID: req.SessionID, State: req.State}
	sess = &core.Session{}
	if err := c.do(ctx, "create", http.MethodPost, c.sessionsURL(req.AppName, req.UserID), body, sess); err != nil {
		return nil, err
	}
	return normalize(sess), nil
}

// Get implements core.SessionStore.
func (c *Client) Get(ctx context.Context, req core.GetRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { c.observe("get", start, err, "session", req.Key().String()) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	u := c.sessionURL(req.Key())
	q := url.Values{}
	if req.NumRecentEvents > 0 {
		q.Set(paramNumRecentEvents, strconv.Itoa(req.NumRecentEvents))
	}
	if !req.After.IsZero() {
		q.Set(paramAfter, req.After.UTC().Format(time.RFC3339Nano))
	}
	u.RawQuery = q.Encode()

	sess = &core.Session{}
	if err := c.do(ctx, "get", http.MethodGet, u, nil, sess); err != nil {
		return nil, err
	}
	return normalize(sess), nil
}

// List implements core.SessionStore.
func (c *Client) List(ctx context.Context, req core.ListRequest) (list []*core.Session, err error) {
	start := time.Now()
	defer func() { c.observe("list", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	var body ListSessionsBody
	if err := c.do(ctx, "list", http.MethodGet, c.sessionsURL(req.AppName, req.UserID), nil, &body); err != nil {
		return nil, err
	}
	list = make([]*core.Session, 0, len(body.Sessions))
	for _, sess := range body.Sessions {
		if sess != nil {
			list = append(list, normalize(sess))
		}
	}
	return list, nil
}

// AppendEvent implements core.SessionStore.
func (c *Client) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { c.observe("append_event", start, err, "session", key.String(), "event_id", ev.ID) }()

	if err := key.Validate(); err != nil {
		return nil, err
	}
	sess = &core.Session{}
	if err := c.do(ctx, "append_event", http.MethodPost, c.sessionURL(key, "events"), ev, sess); err != nil {
		return nil, err
	}
	return normalize(sess), nil
}

// Delete implements core.SessionStore.
func (c *Client) Delete(ctx context.Context, req core.DeleteRequest) (err error) {
	start := time.Now()
	defer func() { c.observe("delete", start, err, "session", req.Key().String()) }()

	if err := req.Validate(); err != nil {
		return err
	}
	return c.do(ctx, "delete", http.MethodDelete, c.sessionURL(req.Key()), nil, nil)
}

// do performs one request. in is encoded as the body when non-nil; out
// receives the decoded 2xx response when non-nil.
func (c *Client) do(ctx context.Context, op, method string, u *url.URL, in, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := c.opts.Codec.Encode(&buf, in); err != nil {
			return core.NewBackendError(op, fmt.Errorf("encode request: %w", err))
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return core.NewBackendError(op, err)
	}
	req.Header.Set("Accept", c.opts.Codec.ContentType())
	if in != nil {
		req.Header.Set("Content-Type", c.opts.Codec.ContentType())
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return core.NewBackendError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return core.NewBackendError(op, fmt.Errorf("unexpected redirect %d to %q", resp.StatusCode, resp.Header.Get("Location")))
	}

	respCodec, ok := codecForContentType(resp.Header.Get("Content-Type"))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if !ok {
			return core.NewBackendError(op, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
		}
		if err := respCodec.Decode(resp.Body, out); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return core.NewBackendError(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	var eb ErrorBody
	if ok {
		_ = respCodec.Decode(resp.Body, &eb)
	}
	return responseError(op, resp.StatusCode, eb)
}

// responseError rebuilds the error of a non-2xx response. Caller error
// codes map back to their sentinels; everything else is a backend error.
func responseError(op string, status int, eb ErrorBody) error {
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if sentinel, ok := sentinelFor(eb.Code); ok {
		return &remoteError{sentinel: sentinel, msg: msg}
	}
	return core.NewBackendError(op, fmt.Errorf("server returned %d %s: %s", status, eb.Code, msg))
}

// remoteError carries the server's message while matching the sentinel.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

// normalize restores the invariants decoding may lose: non-nil state and
// event log, UTC timestamps.
func normalize(sess *core.Session) *core.Session {
	if sess.State == nil {
		sess.State = core.StateMap{}
	}
	if sess.Events == nil {
		sess.Events = core.EventLog{}
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	for i := range sess.Events {
		sess.Events[i].Timestamp = sess.Events[i].Timestamp.UTC()
	}
	return sess
}
