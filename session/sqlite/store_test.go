package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/testutil"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/session/sessiontest"
)

// createTestStore opens a store in a fresh temporary directory.
func createTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) core.SessionStore {
		return createTestStore(t)
	})
}

func TestStore_MatchesInMemoryStore(t *testing.T) {
	ctx := context.Background()
	key := core.SessionKey{AppName: "app", UserID: "u1", SessionID: "scripted"}

	want, err := sessiontest.Script(ctx, session.NewInMemoryStore(), key)
	require.NoError(t, err)
	got, err := sessiontest.Script(ctx, createTestStore(t), key)
	require.NoError(t, err)

	wantBytes, err := sessiontest.Canonical(want)
	require.NoError(t, err)
	gotBytes, err := sessiontest.Canonical(got)
	require.NoError(t, err)
	assert.Equal(t, string(wantBytes), string(gotBytes))
}

func TestStore_ReopenKeepsSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := Open(path)
	require.NoError(t, err)
	sess, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "s1",
		State: core.MustState(map[string]any{"user:name": "alice"})})
	require.NoError(t, err)
	ev := testutil.NewEventBuilder().ID("e1").At(sessiontest.T1).UserText("hello").Delta("turns", 1).Build()
	_, err = s.AppendEvent(ctx, sess.Key(), ev)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, core.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "hello", got.Events[0].Content.Text())
	v, _ := got.GetState("turns")
	assert.True(t, v.Equal(core.Int(1)))
	assert.True(t, got.CreatedAt.Equal(sess.CreatedAt))

	var version int
	require.NoError(t, reopened.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestStore_Pragmas(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestStore_CompressesLargePayloads(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, func(o *Options) { o.CompressThreshold = 256 })
	sess, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	large := strings.Repeat("all work and no play makes a dull session ", 200)
	_, err = s.AppendEvent(ctx, sess.Key(), testutil.NewEventBuilder().ID("big").AssistantText(large).Build())
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, sess.Key(), testutil.NewEventBuilder().ID("small").AssistantText("ok").Build())
	require.NoError(t, err)

	rows, err := s.db.Query(`SELECT event_id, encoding, length(payload) FROM events ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()
	stored := map[string]encoding{}
	for rows.Next() {
		var (
			id   string
			enc  int
			size int
		)
		require.NoError(t, rows.Scan(&id, &enc, &size))
		stored[id] = encoding(enc)
		if id == "big" {
			assert.Less(t, size, len(large))
		}
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, encodingZstdJSON, stored["big"])
	assert.Equal(t, encodingJSON, stored["small"])

	got, err := s.Get(ctx, core.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, large, got.Events[0].Content.Text())
}

func TestStore_DeleteCascadesEvents(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	sess, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	for _, id := range []string{"e1", "e2"} {
		_, err := s.AppendEvent(ctx, sess.Key(), testutil.NewEventBuilder().ID(id).Build())
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, core.DeleteRequest{AppName: "app", UserID: "u1", SessionID: "s1"}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Zero(t, n)
}

func TestStore_ClosedDatabaseIsBackendError(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), core.GetRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackend)

	var be *core.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "get", be.Op)
}

func TestStore_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestEncodeEvent(t *testing.T) {
	ev := testutil.NewEventBuilder().ID("e1").At(sessiontest.T1).AssistantText("hi").Build()

	data, enc, err := encodeEvent(ev, 0)
	require.NoError(t, err)
	assert.Equal(t, encodingJSON, enc)

	back, err := decodeEvent(data, enc)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, back.ID)
	assert.True(t, ev.Timestamp.Equal(back.Timestamp))

	_, err = decodeEvent(data, encoding(7))
	assert.Error(t, err)
}
