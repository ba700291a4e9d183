package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/testutil"
	"github.com/hupe1980/sessionmesh/session/sessiontest"
)

func TestInMemoryStore_Conformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) core.SessionStore {
		return NewInMemoryStore()
	})
}

func TestInMemoryStore_Options(t *testing.T) {
	fixed := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	n := 0
	s := NewInMemoryStore(
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("gen-%d", n) }),
		WithLogger(nil),
	)

	sess, err := s.Create(context.Background(), core.CreateRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", sess.ID)
	assert.True(t, sess.CreatedAt.Equal(fixed))

	out, err := s.AppendEvent(context.Background(), sess.Key(), core.Event{ID: "e1"})
	require.NoError(t, err)
	assert.True(t, out.Events[0].Timestamp.Equal(fixed))
}

func TestInMemoryStore_GeneratedIDCollisionRetries(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	s := NewInMemoryStore(WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	ctx := context.Background()

	first, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	second, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID)
	assert.Equal(t, "fresh", second.ID)
}

func TestInMemoryStore_DeleteReleasesIndex(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Shards = 1 })
	ctx := context.Background()
	sess, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, core.DeleteRequest{AppName: "app", UserID: "u1", SessionID: sess.ID}))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.shards[0].owners)
}

// Appends racing a delete either land before it or fail with ErrNotFound;
// none may resurrect the session.
func TestInMemoryStore_AppendRacingDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	key := core.SessionKey{AppName: "app", UserID: "u1", SessionID: "s1"}
	_, err := s.Create(ctx, core.CreateRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := testutil.NewEventBuilder().ID(fmt.Sprintf("e%d", i)).Delta("n", i).Build()
			_, err := s.AppendEvent(ctx, key, ev)
			if err != nil {
				assert.ErrorIs(t, err, core.ErrNotFound)
			}
		}(i)
	}
	require.NoError(t, s.Delete(ctx, core.DeleteRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID}))
	wg.Wait()

	_, err = s.Get(ctx, core.GetRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

// A long critical section on one session must not block another.
func TestInMemoryStore_SessionsDoNotShareLocks(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Shards = 1 })
	ctx := context.Background()
	a, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "a"})
	require.NoError(t, err)
	b, err := s.Create(ctx, core.CreateRequest{AppName: "app", UserID: "u1", SessionID: "b"})
	require.NoError(t, err)

	held := s.lookup(a.Key())
	held.mu.Lock()
	defer held.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.AppendEvent(ctx, b.Key(), core.Event{ID: "e1"})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("append to session b blocked by a lock held on session a")
	}
}

func TestInMemoryStore_SeedFromBuilder(t *testing.T) {
	s := NewInMemoryStore()
	req := testutil.NewSessionBuilder("s1").Owner("app", "u1").
		State("user:name", "alice").
		State("temp:scratch", 1).
		CreateRequest()

	sess, err := s.Create(context.Background(), req)
	require.NoError(t, err)
	_, hasTemp := sess.GetState("temp:scratch")
	assert.False(t, hasTemp)
	v, _ := sess.GetState("user:name")
	assert.True(t, v.Equal(core.String("alice")))
}
