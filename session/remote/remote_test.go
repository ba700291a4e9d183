package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/session/sessiontest"
)

// newTestClient serves a fresh in-memory store and returns a client for it.
func newTestClient(t *testing.T, c Codec) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(session.NewInMemoryStore()))
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, WithCodec(c), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client, srv
}

func TestClient_ConformanceJSON(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) core.SessionStore {
		client, _ := newTestClient(t, JSON)
		return client
	})
}

func TestClient_ConformanceCBOR(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) core.SessionStore {
		client, _ := newTestClient(t, CBOR)
		return client
	})
}

func TestClient_MatchesLocalStore(t *testing.T) {
	ctx := context.Background()
	key := core.SessionKey{AppName: "app", UserID: "u1", SessionID: "scripted"}

	local, err := sessiontest.Script(ctx, session.NewInMemoryStore(), key)
	require.NoError(t, err)
	want, err := sessiontest.Canonical(local)
	require.NoError(t, err)

	for name, c := range map[string]Codec{"json": JSON, "cbor": CBOR} {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, c)
			remote, err := sessiontest.Script(ctx, client, key)
			require.NoError(t, err)
			got, err := sessiontest.Canonical(remote)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

func TestClient_EscapesPathSegments(t *testing.T) {
	client, _ := newTestClient(t, JSON)
	ctx := context.Background()

	req := core.CreateRequest{AppName: "my app", UserID: "jörg@example.com", SessionID: "a b?c#d%e"}
	sess, err := client.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.SessionID, sess.ID)
	assert.Equal(t, req.UserID, sess.UserID)

	got, err := client.Get(ctx, core.GetRequest{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID})
	require.NoError(t, err)
	assert.Equal(t, req.SessionID, got.ID)
}

func TestClient_ServerDownIsBackendError(t *testing.T) {
	client, srv := newTestClient(t, JSON)
	srv.Close()

	_, err := client.Get(context.Background(), core.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackend)
	assert.False(t, core.IsCallerError(err))
}

func TestClient_BackendErrorsPropagate(t *testing.T) {
	srv := httptest.NewServer(NewHandler(failingStore{}))
	defer srv.Close()
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), core.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	assert.ErrorIs(t, err, core.ErrBackend)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestClient_RedirectIsBackendError(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.URL.Path != "/elsewhere" {
			http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"elsewhere"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(NewHTTPClient(time.Second)))
	require.NoError(t, err)

	_, err = client.AppendEvent(context.Background(), core.SessionKey{AppName: "app", UserID: "u1", SessionID: "s1"}, core.Event{})
	assert.ErrorIs(t, err, core.ErrBackend)
	assert.Contains(t, err.Error(), "redirect")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodPost}, methods)
}

func TestClient_RejectsDotSegmentsLocally(t *testing.T) {
	client, srv := newTestClient(t, JSON)
	srv.Close()

	ctx := context.Background()
	for _, dot := range []string{".", ".."} {
		_, err := client.Get(ctx, core.GetRequest{AppName: "app", UserID: "u1", SessionID: dot})
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		assert.ErrorIs(t, client.Delete(ctx, core.DeleteRequest{AppName: dot, UserID: "u1", SessionID: "s1"}), core.ErrInvalidArgument)
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
	_, err = NewClient("://bad")
	assert.Error(t, err)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	h := NewHandler(session.NewInMemoryStore())
	srv := httptest.NewServer(h)
	defer srv.Close()
	base := srv.URL + "/v1/apps/app/users/u1/sessions"

	post := func(url, contentType, body string) *http.Response {
		resp, err := http.Post(url, contentType, strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	errorBody := func(resp *http.Response) ErrorBody {
		var eb ErrorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
		return eb
	}

	resp := post(base, ContentTypeJSON, `{"session_id":"s1","state":{"k":"v","temp:x":1}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created core.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "s1", created.ID)
	assert.NotContains(t, created.State, "temp:x")

	resp = post(base, ContentTypeJSON, `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeAlreadyExists, errorBody(resp).Code)

	resp = post(base, "text/plain", `hi`)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = post(base+"/s1/events", ContentTypeJSON, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeInvalidArgument, errorBody(resp).Code)

	for _, query := range []string{"num_recent_events=-1", "num_recent_events=x", "after=yesterday"} {
		resp, err := http.Get(base + "/s1?" + query)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		assert.Equal(t, CodeInvalidArgument, errorBody(resp).Code, query)
		resp.Body.Close()
	}

	resp, err := http.Get(base + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, errorBody(resp).Code)

	req, err := http.NewRequest(http.MethodDelete, base+"/s1", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
}

func TestHandler_NegotiatesCBOR(t *testing.T) {
	srv := httptest.NewServer(NewHandler(session.NewInMemoryStore()))
	defer srv.Close()

	var body bytes.Buffer
	require.NoError(t, CBOR.Encode(&body, CreateSessionBody{SessionID: "s1"}))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/apps/app/users/u1/sessions", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentTypeCBOR)
	req.Header.Set("Accept", "application/json;q=0.5, application/cbor")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, ContentTypeCBOR, resp.Header.Get("Content-Type"))

	var sess core.Session
	require.NoError(t, CBOR.Decode(resp.Body, &sess))
	assert.Equal(t, "s1", sess.ID)
}

func TestHandler_Healthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(session.NewInMemoryStore()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, c.ContentType())
	c, err = ParseCodec("CBOR")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeCBOR, c.ContentType())
	_, err = ParseCodec("xml")
	assert.Error(t, err)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.NotFoundError(core.SessionKey{SessionID: "s"}), http.StatusNotFound, CodeNotFound},
		{core.InvalidArgumentf("bad"), http.StatusBadRequest, CodeInvalidArgument},
		{core.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists},
		{core.NewBackendError("get", errors.New("io")), http.StatusBadGateway, CodeBackend},
		{context.Canceled, http.StatusServiceUnavailable, CodeCanceled},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

// failingStore reports a backend failure for every operation.
type failingStore struct{}

func (failingStore) fail(op string) error { return core.NewBackendError(op, errors.New("disk on fire")) }

func (f failingStore) Create(context.Context, core.CreateRequest) (*core.Session, error) {
	return nil, f.fail("create")
}

func (f failingStore) Get(context.Context, core.GetRequest) (*core.Session, error) {
	return nil, f.fail("get")
}

func (f failingStore) List(context.Context, core.ListRequest) ([]*core.Session, error) {
	return nil, f.fail("list")
}

func (f failingStore) AppendEvent(context.Context, core.SessionKey, core.Event) (*core.Session, error) {
	return nil, f.fail("append_event")
}

func (f failingStore) Delete(context.Context, core.DeleteRequest) error { return f.fail("delete") }
