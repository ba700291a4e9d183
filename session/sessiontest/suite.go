// Package sessiontest is the conformance suite every core.SessionStore
// backend must pass. Backends call Run from their own tests with a factory
// that returns a fresh, empty store.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/canonical"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) core.SessionStore

// T1 is the base timestamp used by the suite's events.
var T1 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// Run executes the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s core.SessionStore)
	}{
		{"TempExclusion", testTempExclusion},
		{"LastWriteWins", testLastWriteWins},
		{"RecencyWindow", testRecencyWindow},
		{"TimeAfterWindow", testTimeAfterWindow},
		{"OwnershipIsolation", testOwnershipIsolation},
		{"AppIsolation", testAppIsolation},
		{"DeleteFinality", testDeleteFinality},
		{"EndToEndScenario", testEndToEndScenario},
		{"CreateCollision", testCreateCollision},
		{"GeneratedIDs", testGeneratedIDs},
		{"AppendToMissingSession", testAppendToMissing},
		{"EventsKeptVerbatim", testEventsVerbatim},
		{"DefaultsAssignedOnAppend", testAppendDefaults},
		{"DuplicateEventID", testDuplicateEventID},
		{"InvalidArguments", testInvalidArguments},
		{"PartialEventsNotPersisted", testPartialNotPersisted},
		{"ListOmitsEvents", testListOmitsEvents},
		{"SnapshotIsolation", testSnapshotIsolation},
		{"ScopedKeysSessionLocal", testScopedKeysSessionLocal},
		{"UpdatedAtTracksLatestEvent", testUpdatedAt},
		{"CanceledContext", testCanceledContext},
		{"ConcurrentAppendsOneSession", testConcurrentAppends},
		{"ReadsDuringAppendsSeeWholeEvents", testReadsDuringAppends},
		{"ConcurrentSessions", testConcurrentSessions},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// Canonical returns the canonical JSON of a session's state and events.
// Two backends that processed the same workload produce identical bytes.
func Canonical(sess *core.Session) ([]byte, error) {
	return canonical.Marshal(struct {
		State  core.StateMap `json:"state"`
		Events core.EventLog `json:"events"`
	}{State: sess.State, Events: sess.Events})
}

// Script runs a deterministic workload against store under key and returns
// the final snapshot. Every id and timestamp is fixed, so the canonical
// form of the result is the same for every conforming backend.
func Script(ctx context.Context, store core.SessionStore, key core.SessionKey) (*core.Session, error) {
	_, err := store.Create(ctx, core.CreateRequest{
		AppName:   key.AppName,
		UserID:    key.UserID,
		SessionID: key.SessionID,
		State: core.MustState(map[string]any{
			"app:locale":  "en-US",
			"user:name":   "alice",
			"temp:create": "drop-me",
			"counter":     0,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	user := core.Event{
		ID:           "script-1",
		InvocationID: "inv-1",
		Author:       "user",
		Timestamp:    T1,
		Content:      &core.Content{Role: "user", Parts: []core.Part{core.TextPart("What is the weather?")}},
	}
	call := core.Event{
		ID:           "script-2",
		InvocationID: "inv-1",
		Author:       "assistant",
		Timestamp:    T1.Add(time.Second),
		Content: &core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart(core.FunctionCall{ID: "call-1", Name: "weather", Arguments: `{"city":"Berlin"}`}),
		}},
	}
	result := core.Event{
		ID:           "script-3",
		InvocationID: "inv-1",
		Author:       "weather",
		Timestamp:    T1.Add(2 * time.Second),
		Content: &core.Content{Role: "tool", Parts: []core.Part{
			core.FunctionResponsePart(core.FunctionResponse{
				ID:       "call-1",
				Name:     "weather",
				Response: core.MustFromAny(map[string]any{"temp_c": 21.5, "sky": []any{"sunny", nil}}),
			}),
		}},
		Actions: core.EventActions{StateDelta: core.MustState(map[string]any{
			"temp:raw": "skip",
			"counter":  1,
		})},
	}
	answer := core.Event{
		ID:           "script-4",
		InvocationID: "inv-1",
		Author:       "assistant",
		Timestamp:    T1.Add(3 * time.Second),
		TurnComplete: true,
		Content:      &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart("Sunny, 21.5°C.")}},
		Actions: core.EventActions{StateDelta: core.MustState(map[string]any{
			"counter":     2,
			"user:name":   "alice b.",
			"last_answer": "Sunny, 21.5°C.",
		})},
	}
	partial := core.Event{
		ID:        "script-partial",
		Timestamp: T1.Add(4 * time.Second),
		Partial:   true,
		Content:   &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart("Sun")}},
	}

	for _, ev := range []core.Event{user, call, result, partial, answer} {
		if _, err := store.AppendEvent(ctx, key, ev); err != nil {
			return nil, fmt.Errorf("append %s: %w", ev.ID, err)
		}
	}

	return store.Get(ctx, core.GetRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID})
}

func create(t *testing.T, s core.SessionStore, app, user, id string, state map[string]any) *core.Session {
	t.Helper()
	req := core.CreateRequest{AppName: app, UserID: user, SessionID: id}
	if state != nil {
		req.State = core.MustState(state)
	}
	sess, err := s.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

func appendDelta(t *testing.T, s core.SessionStore, key core.SessionKey, id string, ts time.Time, delta map[string]any) *core.Session {
	t.Helper()
	ev := core.Event{ID: id, Author: "agent", Timestamp: ts}
	if delta != nil {
		ev.Actions.StateDelta = core.MustState(delta)
	}
	sess, err := s.AppendEvent(context.Background(), key, ev)
	require.NoError(t, err)
	return sess
}

func get(t *testing.T, s core.SessionStore, key core.SessionKey) *core.Session {
	t.Helper()
	sess, err := s.Get(context.Background(), getReq(key))
	require.NoError(t, err)
	return sess
}

func getReq(key core.SessionKey) core.GetRequest {
	return core.GetRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID}
}

func eventIDs(l core.EventLog) []string {
	out := make([]string, len(l))
	for i := range l {
		out[i] = l[i].ID
	}
	return out
}

func sessionIDs(list []*core.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func assertNoTempKeys(t *testing.T, state core.StateMap) {
	t.Helper()
	for k := range state {
		assert.NotEqual(t, core.ScopeTemp, core.ClassifyKey(k), "temp key %q leaked into state", k)
	}
}

func assertState(t *testing.T, state core.StateMap, key string, want any) {
	t.Helper()
	v, ok := state.Get(key)
	if !assert.True(t, ok, "missing state key %q", key) {
		return
	}
	assert.True(t, v.Equal(core.MustFromAny(want)), "state[%q] = %s, want %v", key, v, want)
}

func canonicalEvent(t *testing.T, ev core.Event) string {
	t.Helper()
	data, err := canonical.Marshal(ev)
	require.NoError(t, err)
	return string(data)
}

func testTempExclusion(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", map[string]any{"temp:seed": 1, "keep": "v"})
	assertNoTempKeys(t, sess.State)
	assertState(t, sess.State, "keep", "v")

	appendDelta(t, s, sess.Key(), "e1", T1, map[string]any{"temp:event": "x", "k": 1})

	got := get(t, s, sess.Key())
	assertNoTempKeys(t, got.State)
	assertState(t, got.State, "k", 1)
	require.Len(t, got.Events, 1)
	_, kept := got.Events[0].Actions.StateDelta["temp:event"]
	assert.True(t, kept, "event delta must be stored verbatim")

	list, err := s.List(context.Background(), core.ListRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assertNoTempKeys(t, list[0].State)
}

func testLastWriteWins(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	appendDelta(t, s, sess.Key(), "e1", T1, map[string]any{"result": "ok-1", "other": true})
	out := appendDelta(t, s, sess.Key(), "e2", T1.Add(time.Second), map[string]any{"result": "ok-2"})

	assertState(t, out.State, "result", "ok-2")
	assertState(t, out.State, "other", true)
	assertState(t, get(t, s, sess.Key()).State, "result", "ok-2")
}

func testRecencyWindow(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	appendDelta(t, s, sess.Key(), "e1", T1, nil)
	appendDelta(t, s, sess.Key(), "e2", T1.Add(time.Second), nil)

	req := getReq(sess.Key())
	req.NumRecentEvents = 1
	got, err := s.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, eventIDs(got.Events))
	assert.True(t, got.Events[0].Timestamp.Equal(T1.Add(time.Second)))

	req.NumRecentEvents = 10
	got, err = s.Get(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, eventIDs(got.Events))
}

func testTimeAfterWindow(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	t2, t3 := T1.Add(time.Second), T1.Add(2*time.Second)
	appendDelta(t, s, sess.Key(), "e1", T1, nil)
	appendDelta(t, s, sess.Key(), "e2", t2, nil)
	appendDelta(t, s, sess.Key(), "e3", t3, nil)

	window := func(after time.Time, n int) []string {
		req := getReq(sess.Key())
		req.After, req.NumRecentEvents = after, n
		got, err := s.Get(context.Background(), req)
		require.NoError(t, err)
		return eventIDs(got.Events)
	}

	assert.Equal(t, []string{"e3"}, window(t2, 0))
	assert.Equal(t, []string{"e2", "e3"}, window(T1, 0))
	assert.Equal(t, []string{"e3"}, window(T1, 1))
	assert.Empty(t, window(t3, 0))
	assert.Equal(t, []string{"e1", "e2", "e3"}, window(T1.Add(-time.Nanosecond), 0))
}

func testOwnershipIsolation(t *testing.T, s core.SessionStore) {
	ctx := context.Background()
	mine := create(t, s, "app", "user_1", "shared", map[string]any{"owner": "user_1"})

	_, err := s.Get(ctx, core.GetRequest{AppName: "app", UserID: "user_2", SessionID: "shared"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.AppendEvent(ctx, core.SessionKey{AppName: "app", UserID: "user_2", SessionID: "shared"}, core.Event{ID: "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.Delete(ctx, core.DeleteRequest{AppName: "app", UserID: "user_2", SessionID: "shared"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Same session id under another owner is a distinct session.
	theirs := create(t, s, "app", "user_2", "shared", map[string]any{"owner": "user_2"})
	appendDelta(t, s, theirs.Key(), "e1", T1, map[string]any{"owner": "changed"})

	assertState(t, get(t, s, mine.Key()).State, "owner", "user_1")
	assert.Empty(t, get(t, s, mine.Key()).Events)
	create(t, s, "app", "user_1", "only-mine", nil)

	list1, err := s.List(ctx, core.ListRequest{AppName: "app", UserID: "user_1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shared", "only-mine"}, sessionIDs(list1))
	for _, sess := range list1 {
		assert.Equal(t, "user_1", sess.UserID)
	}

	list2, err := s.List(ctx, core.ListRequest{AppName: "app", UserID: "user_2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, sessionIDs(list2))
	assert.Equal(t, "user_2", list2[0].UserID)
}

func testAppIsolation(t *testing.T, s core.SessionStore) {
	ctx := context.Background()
	create(t, s, "app_a", "u1", "s1", nil)
	create(t, s, "app_b", "u1", "s2", nil)

	_, err := s.Get(ctx, core.GetRequest{AppName: "app_b", UserID: "u1", SessionID: "s1"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	listA, err := s.List(ctx, core.ListRequest{AppName: "app_a", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessionIDs(listA))

	listB, err := s.List(ctx, core.ListRequest{AppName: "app_b", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, sessionIDs(listB))

	none, err := s.List(ctx, core.ListRequest{AppName: "app_c", UserID: "u1"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testDeleteFinality(t *testing.T, s core.SessionStore) {
	ctx := context.Background()
	sess := create(t, s, "app", "u1", "s1", map[string]any{"k": "v"})
	appendDelta(t, s, sess.Key(), "e1", T1, nil)
	del := core.DeleteRequest{AppName: "app", UserID: "u1", SessionID: "s1"}

	require.NoError(t, s.Delete(ctx, del))

	_, err := s.Get(ctx, getReq(sess.Key()))
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.AppendEvent(ctx, sess.Key(), core.Event{ID: "e2"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, del), core.ErrNotFound)

	list, err := s.List(ctx, core.ListRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, list)

	// The id is free again and starts from scratch.
	again := create(t, s, "app", "u1", "s1", nil)
	assert.Empty(t, again.State)
	assert.Empty(t, get(t, s, again.Key()).Events)
}

func testEndToEndScenario(t *testing.T, s core.SessionStore) {
	ctx := context.Background()
	created, err := s.Create(ctx, core.CreateRequest{
		AppName: "contract_app",
		UserID:  "user1",
		State: core.MustState(map[string]any{
			"app:locale":  "en-US",
			"user:name":   "alice",
			"session_key": "seed",
			"temp:create": "drop-me",
		}),
	})
	require.NoError(t, err)
	key := created.Key()

	fetched := get(t, s, key)
	assertState(t, fetched.State, "app:locale", "en-US")
	assertState(t, fetched.State, "user:name", "alice")
	assertState(t, fetched.State, "session_key", "seed")
	_, ok := fetched.State["temp:create"]
	assert.False(t, ok)

	t1 := T1
	t2 := t1.Add(time.Second)
	appendDelta(t, s, key, "evt-1", t1, map[string]any{"result": "ok-1", "temp:event": "skip"})
	appendDelta(t, s, key, "evt-2", t2, map[string]any{"result": "ok-2"})

	full := get(t, s, key)
	require.Len(t, full.Events, 2)
	assertState(t, full.State, "result", "ok-2")
	_, ok = full.State["temp:event"]
	assert.False(t, ok)
	second := canonicalEvent(t, full.Events[1])

	recent := getReq(key)
	recent.NumRecentEvents = 1
	got, err := s.Get(ctx, recent)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, second, canonicalEvent(t, got.Events[0]))

	after := getReq(key)
	after.After = t1
	got, err = s.Get(ctx, after)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, second, canonicalEvent(t, got.Events[0]))

	// After is exclusive. The second event is stamped exactly t2, so a
	// filter of t2 drops it even though a looser reading would keep it.
	after.After = t2
	got, err = s.Get(ctx, after)
	require.NoError(t, err)
	assert.Empty(t, got.Events)
}

func testCreateCollision(t *testing.T, s core.SessionStore) {
	create(t, s, "app", "u1", "s1", map[string]any{"v": 1})

	_, err := s.Create(context.Background(), core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	assertState(t, get(t, s, core.SessionKey{AppName: "app", UserID: "u1", SessionID: "s1"}).State, "v", 1)

	create(t, s, "app", "u2", "s1", nil)
	create(t, s, "other", "u1", "s1", nil)
}

func testGeneratedIDs(t *testing.T, s core.SessionStore) {
	a := create(t, s, "app", "u1", "", nil)
	b := create(t, s, "app", "u1", "", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "app", a.AppName)
	assert.Equal(t, "u1", a.UserID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Empty(t, a.Events)
	get(t, s, a.Key())
}

func testAppendToMissing(t *testing.T, s core.SessionStore) {
	_, err := s.AppendEvent(context.Background(), core.SessionKey{AppName: "app", UserID: "u1", SessionID: "nope"}, core.Event{ID: "e1", Timestamp: T1})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Get(context.Background(), core.GetRequest{AppName: "app", UserID: "u1", SessionID: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testEventsVerbatim(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	ev := core.Event{
		ID:           "e1",
		InvocationID: "inv-9",
		Author:       "planner",
		Timestamp:    T1.Add(123456789 * time.Nanosecond),
		Content: &core.Content{Role: "assistant", Parts: []core.Part{
			core.TextPart("thinking"),
			core.FunctionCallPart(core.FunctionCall{ID: "c1", Name: "search", Arguments: `{"q":"go"}`}),
		}},
		Actions: core.EventActions{StateDelta: core.MustState(map[string]any{
			"nested":     map[string]any{"list": []any{1, "two", nil, false}},
			"temp:trace": "t",
		})},
		TurnComplete: true,
		ErrorCode:    "rate_limited",
		ErrorMessage: "try later",
	}
	out, err := s.AppendEvent(context.Background(), sess.Key(), ev)
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.Equal(t, canonicalEvent(t, ev), canonicalEvent(t, out.Events[0]))

	got := get(t, s, sess.Key())
	require.Len(t, got.Events, 1)
	assert.Equal(t, canonicalEvent(t, ev), canonicalEvent(t, got.Events[0]))
	assert.Equal(t, time.UTC, got.Events[0].Timestamp.Location())
	assertState(t, got.State, "nested", map[string]any{"list": []any{1, "two", nil, false}})
}

func testAppendDefaults(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	out, err := s.AppendEvent(context.Background(), sess.Key(), core.Event{Author: "agent"})
	require.NoError(t, err)
	require.Len(t, out.Events, 1)
	assert.NotEmpty(t, out.Events[0].ID)
	assert.False(t, out.Events[0].Timestamp.IsZero())
	assert.Equal(t, time.UTC, out.Events[0].Timestamp.Location())

	loc := time.FixedZone("CEST", 2*60*60)
	local := time.Date(2025, 6, 1, 14, 0, 0, 0, loc)
	out = appendDelta(t, s, sess.Key(), "local", local, nil)
	require.Len(t, out.Events, 2)
	assert.True(t, out.Events[1].Timestamp.Equal(local))
	assert.Equal(t, time.UTC, out.Events[1].Timestamp.Location())
}

func testDuplicateEventID(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	appendDelta(t, s, sess.Key(), "e1", T1, map[string]any{"v": 1})

	_, err := s.AppendEvent(context.Background(), sess.Key(), core.Event{
		ID: "e1", Timestamp: T1.Add(time.Second),
		Actions: core.EventActions{StateDelta: core.MustState(map[string]any{"v": 2})},
	})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	got := get(t, s, sess.Key())
	assert.Len(t, got.Events, 1)
	assertState(t, got.State, "v", 1)
}

func testInvalidArguments(t *testing.T, s core.SessionStore) {
	ctx := context.Background()
	sess := create(t, s, "app", "u1", "s1", nil)

	_, err := s.Create(ctx, core.CreateRequest{UserID: "u1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "a/b"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	for _, dot := range []string{".", ".."} {
		_, err = s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: dot})
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "create %q", dot)
		_, err = s.Create(ctx, core.CreateRequest{AppName: dot, UserID: "u1"})
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "create app %q", dot)
		_, err = s.Get(ctx, core.GetRequest{AppName: "app", UserID: "u1", SessionID: dot})
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "get %q", dot)
		_, err = s.AppendEvent(ctx, core.SessionKey{AppName: "app", UserID: "u1", SessionID: dot}, core.Event{})
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "append %q", dot)
		assert.ErrorIs(t, s.Delete(ctx, core.DeleteRequest{AppName: "app", UserID: "u1", SessionID: dot}), core.ErrInvalidArgument, "delete %q", dot)
		_, err = s.List(ctx, core.ListRequest{AppName: dot, UserID: "u1"})
		assert.ErrorIs(t, err, core.ErrInvalidArgument, "list app %q", dot)
	}

	neg := getReq(sess.Key())
	neg.NumRecentEvents = -1
	_, err = s.Get(ctx, neg)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = s.Get(ctx, core.GetRequest{AppName: "app", UserID: "u1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = s.List(ctx, core.ListRequest{AppName: "app"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = s.AppendEvent(ctx, core.SessionKey{AppName: "app", UserID: "u1"}, core.Event{})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.ErrorIs(t, s.Delete(ctx, core.DeleteRequest{AppName: "app", SessionID: "s1"}), core.ErrInvalidArgument)
}

func testPartialNotPersisted(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", map[string]any{"k": "v"})
	out, err := s.AppendEvent(context.Background(), sess.Key(), core.Event{
		ID:        "p1",
		Timestamp: T1,
		Partial:   true,
		Content:   &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart("stre")}},
		Actions:   core.EventActions{StateDelta: core.MustState(map[string]any{"k": "changed"})},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Events)
	assertState(t, out.State, "k", "v")

	got := get(t, s, sess.Key())
	assert.Empty(t, got.Events)
	assertState(t, got.State, "k", "v")

	// A later final event may reuse the partial's id.
	appendDelta(t, s, sess.Key(), "p1", T1.Add(time.Second), nil)

	_, err = s.AppendEvent(context.Background(), core.SessionKey{AppName: "app", UserID: "u1", SessionID: "missing"}, core.Event{Partial: true})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListOmitsEvents(t *testing.T, s core.SessionStore) {
	for _, id := range []string{"c", "a", "b"} {
		sess := create(t, s, "app", "u1", id, map[string]any{"id": id})
		appendDelta(t, s, sess.Key(), "e-"+id, T1, nil)
	}

	list, err := s.List(context.Background(), core.ListRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, sess := range list {
		assert.Empty(t, sess.Events, "list must not include events")
		assertState(t, sess.State, "id", sess.ID)
		if i > 0 {
			prev := list[i-1]
			ordered := prev.CreatedAt.Before(sess.CreatedAt) ||
				(prev.CreatedAt.Equal(sess.CreatedAt) && prev.ID < sess.ID)
			assert.True(t, ordered, "list not ordered by created_at, id: %v", sessionIDs(list))
		}
	}
}

func testSnapshotIsolation(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", map[string]any{"k": "v"})
	out := appendDelta(t, s, sess.Key(), "e1", T1, map[string]any{"n": 1})

	sess.State["k"] = core.String("mutated")
	out.State["n"] = core.Int(99)
	out.Events[0].ID = "mutated"
	out.Events[0].Actions.StateDelta["n"] = core.Int(99)

	got := get(t, s, sess.Key())
	assertState(t, got.State, "k", "v")
	assertState(t, got.State, "n", 1)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "e1", got.Events[0].ID)
	assertState(t, got.Events[0].Actions.StateDelta, "n", 1)
}

func testScopedKeysSessionLocal(t *testing.T, s core.SessionStore) {
	a := create(t, s, "app", "u1", "a", nil)
	b := create(t, s, "app", "u1", "b", nil)
	appendDelta(t, s, a.Key(), "e1", T1, map[string]any{"app:theme": "dark", "user:lang": "de"})

	gotA := get(t, s, a.Key())
	assertState(t, gotA.State, "app:theme", "dark")
	assertState(t, gotA.State, "user:lang", "de")

	gotB := get(t, s, b.Key())
	assert.Empty(t, gotB.State)
}

func testUpdatedAt(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	assert.True(t, sess.UpdatedAt.Equal(sess.CreatedAt))

	later := sess.CreatedAt.Add(time.Hour)
	out := appendDelta(t, s, sess.Key(), "e1", later, nil)
	assert.True(t, out.UpdatedAt.Equal(later), "updated_at %v, want %v", out.UpdatedAt, later)

	out = appendDelta(t, s, sess.Key(), "e2", sess.CreatedAt.Add(-time.Hour), nil)
	assert.True(t, out.UpdatedAt.Equal(later), "older event must not move updated_at back")
	assert.True(t, get(t, s, sess.Key()).UpdatedAt.Equal(later))
	assert.True(t, get(t, s, sess.Key()).CreatedAt.Equal(sess.CreatedAt))
}

func testCanceledContext(t *testing.T, s core.SessionStore) {
	sess := create(t, s, "app", "u1", "s1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, getReq(sess.Key()))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	_, err = s.AppendEvent(ctx, sess.Key(), core.Event{ID: "e1", Timestamp: T1})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, get(t, s, sess.Key()).Events)
}

func testConcurrentAppends(t *testing.T, s core.SessionStore) {
	const writers = 32
	sess := create(t, s, "app", "u1", "s1", nil)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := core.Event{
				ID:        fmt.Sprintf("e-%02d", i),
				Timestamp: T1.Add(time.Duration(i) * time.Millisecond),
				Actions: core.EventActions{StateDelta: core.MustState(map[string]any{
					fmt.Sprintf("k-%02d", i): i,
					"last":                   i,
				})},
			}
			_, err := s.AppendEvent(context.Background(), sess.Key(), ev)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := get(t, s, sess.Key())
	assert.Len(t, got.Events, writers)
	assert.Len(t, got.State, writers+1)

	// "last" holds the delta of the event appended last.
	lastEv := got.Events[len(got.Events)-1]
	want, _ := lastEv.Actions.StateDelta.Get("last")
	assertState(t, got.State, "last", want.Interface())
}

// testReadsDuringAppends checks that a Get racing appends observes each
// append entirely or not at all. Every event adds exactly one state key, so
// a snapshot must hold one key per event it contains.
func testReadsDuringAppends(t *testing.T, s core.SessionStore) {
	const (
		writers = 16
		readers = 4
	)
	ctx := context.Background()
	sess := create(t, s, "app", "u1", "s1", nil)

	done := make(chan struct{})
	failures := make(chan error, readers)
	var readWG sync.WaitGroup
	for r := 0; r < readers; r++ {
		readWG.Add(1)
		go func() {
			defer readWG.Done()
			for {
				got, err := s.Get(ctx, getReq(sess.Key()))
				if err != nil {
					failures <- err
					return
				}
				if err := checkSnapshot(got); err != nil {
					failures <- err
					return
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	var writeWG sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		writeWG.Add(1)
		go func(i int) {
			defer writeWG.Done()
			_, err := s.AppendEvent(ctx, sess.Key(), core.Event{
				ID:        fmt.Sprintf("e-%02d", i),
				Timestamp: T1.Add(time.Duration(i) * time.Millisecond),
				Actions: core.EventActions{StateDelta: core.MustState(map[string]any{
					fmt.Sprintf("k-%02d", i): i,
				})},
			})
			errs <- err
		}(i)
	}
	writeWG.Wait()
	close(done)
	readWG.Wait()
	close(errs)
	close(failures)

	for err := range errs {
		require.NoError(t, err)
	}
	for err := range failures {
		assert.NoError(t, err)
	}

	got := get(t, s, sess.Key())
	require.Len(t, got.Events, writers)
	assert.NoError(t, checkSnapshot(got))
}

// checkSnapshot verifies that state holds exactly the single key added by
// each event of the snapshot.
func checkSnapshot(sess *core.Session) error {
	if len(sess.State) != len(sess.Events) {
		return fmt.Errorf("snapshot has %d events but %d state keys", len(sess.Events), len(sess.State))
	}
	for _, ev := range sess.Events {
		for k, want := range ev.Actions.StateDelta {
			got, ok := sess.State.Get(k)
			if !ok || !got.Equal(want) {
				return fmt.Errorf("event %s: state %q = %v, want %v", ev.ID, k, got, want)
			}
		}
	}
	return nil
}

func testConcurrentSessions(t *testing.T, s core.SessionStore) {
	const (
		sessions = 8
		appends  = 10
	)
	keys := make([]core.SessionKey, sessions)
	for i := range keys {
		keys[i] = create(t, s, "app", fmt.Sprintf("user-%d", i%3), fmt.Sprintf("s-%d", i), nil).Key()
	}

	var wg sync.WaitGroup
	errs := make(chan error, sessions*appends)
	for _, key := range keys {
		for j := 0; j < appends; j++ {
			wg.Add(1)
			go func(key core.SessionKey, j int) {
				defer wg.Done()
				_, err := s.AppendEvent(context.Background(), key, core.Event{
					ID:        fmt.Sprintf("%s-%d", key.SessionID, j),
					Timestamp: T1,
					Actions:   core.EventActions{StateDelta: core.MustState(map[string]any{fmt.Sprintf("n%d", j): j})},
				})
				errs <- err
			}(key, j)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, key := range keys {
		got := get(t, s, key)
		assert.Len(t, got.Events, appends, key.String())
		assert.Len(t, got.State, appends, key.String())
	}
}
