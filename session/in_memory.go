package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

const (
	backendName = "memory"

	// DefaultShards is the number of owner shards of the index.
	DefaultShards = 32

	// maxIDAttempts bounds id regeneration when a generated id collides.
	maxIDAttempts = 8
)

// Options configure an InMemoryStore.
type Options struct {
	// Logger receives one debug entry per operation and an error entry per
	// failure. Defaults to logging.NoOpLogger.
	Logger logging.Logger
	// Now supplies creation and default event timestamps.
	Now func() time.Time
	// NewID generates session ids for requests without one.
	NewID func() string
	// Shards is the number of owner shards (DefaultShards when <= 0).
	Shards int
}

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) func(o *Options) {
	return func(o *Options) { o.Now = now }
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(fn func() string) func(o *Options) {
	return func(o *Options) { o.NewID = fn }
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in process local memory. It is safe for concurrent access and best suited
// for tests, the reference semantics, or ephemeral servers.
//
// Sessions live in independent cells, each guarded by its own lock. An index
// sharded by owner maps (app, user, session id) to cells; the shard lock is
// held only for lookups and insert/remove. Appends to different sessions
// therefore never contend, and List touches a single shard.
type InMemoryStore struct {
	shards []*shard
	opts   Options
}

type shard struct {
	mu     sync.RWMutex
	owners map[core.Owner]map[string]*cell
}

// cell holds one live session aggregate. deleted is set under mu when the
// session is removed so writers that looked the cell up earlier observe it.
type cell struct {
	mu      sync.RWMutex
	sess    *core.Session
	deleted bool
}

// Compile-time interface check.
var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
		NewID:  core.NewID,
		Shards: DefaultShards,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	shards := make([]*shard, opts.Shards)
	for i := range shards {
		shards[i] = &shard{owners: make(map[core.Owner]map[string]*cell)}
	}
	return &InMemoryStore{shards: shards, opts: opts}
}

func (s *InMemoryStore) shardFor(o core.Owner) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(o.AppName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(o.UserID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// lookup returns the cell for key or nil.
func (s *InMemoryStore) lookup(key core.SessionKey) *cell {
	sh := s.shardFor(key.Owner())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.owners[key.Owner()][key.SessionID]
}

func (s *InMemoryStore) observe(op string, start time.Time, err error, args ...any) {
	logging.LogStoreOp(s.opts.Logger, backendName, op, time.Since(start), err, core.IsCallerError, args...)
}

// Create stores a new session. A caller supplied id that already exists
// under the same owner fails with core.ErrAlreadyExists.
func (s *InMemoryStore) Create(ctx context.Context, req core.CreateRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("create", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner := req.Owner()
	sh := s.shardFor(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.owners[owner]
	key, err := s.allocateKey(owner, req.SessionID, sessions)
	if err != nil {
		return nil, err
	}
	c := &cell{sess: core.NewSession(key, req.State, s.opts.Now())}
	if sessions == nil {
		sessions = make(map[string]*cell)
		sh.owners[owner] = sessions
	}
	sessions[key.SessionID] = c
	return c.sess.Clone(), nil
}

// allocateKey returns the key of the new session: the requested id if
// free, or a fresh generated one. Caller must hold the shard write lock.
func (s *InMemoryStore) allocateKey(owner core.Owner, requested string, sessions map[string]*cell) (core.SessionKey, error) {
	key := core.SessionKey{AppName: owner.AppName, UserID: owner.UserID, SessionID: requested}
	if requested != "" {
		if _, exists := sessions[requested]; exists {
			return key, core.AlreadyExistsError(key)
		}
		return key, nil
	}
	for i := 0; i < maxIDAttempts; i++ {
		key.SessionID = s.opts.NewID()
		if err := core.ValidateID("session_id", key.SessionID); err != nil {
			return key, core.NewBackendError("create", err)
		}
		if _, exists := sessions[key.SessionID]; !exists {
			return key, nil
		}
	}
	return key, core.NewBackendError("create", core.AlreadyExistsError(key))
}

// Get returns a snapshot of the session filtered by the request's event
// window.
func (s *InMemoryStore) Get(ctx context.Context, req core.GetRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err, "session", req.Key().String()) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c := s.lookup(req.Key())
	if c == nil {
		return nil, core.NotFoundError(req.Key())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return nil, core.NotFoundError(req.Key())
	}
	return c.sess.Snapshot(req.Filter()), nil
}

// List returns the sessions of one owner without events, ordered by
// creation time then id.
func (s *InMemoryStore) List(ctx context.Context, req core.ListRequest) (list []*core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner := req.Owner()
	sh := s.shardFor(owner)
	sh.mu.RLock()
	cells := make([]*cell, 0, len(sh.owners[owner]))
	for _, c := range sh.owners[owner] {
		cells = append(cells, c)
	}
	sh.mu.RUnlock()

	list = make([]*core.Session, 0, len(cells))
	for _, c := range cells {
		c.mu.RLock()
		if !c.deleted {
			list = append(list, c.sess.Summary())
		}
		c.mu.RUnlock()
	}
	core.SortSessions(list)
	return list, nil
}

// AppendEvent merges ev's state delta into the session and appends ev.
// Partial events are not persisted; the current session is returned
// unchanged for them.
func (s *InMemoryStore) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("append_event", start, err, "session", key.String(), "event_id", ev.ID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	c := s.lookup(key)
	if c == nil {
		return nil, core.NotFoundError(key)
	}

	if ev.Partial {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.deleted {
			return nil, core.NotFoundError(key)
		}
		return c.sess.Clone(), nil
	}

	ev = core.PrepareEvent(ev, s.opts.Now())
	if err := core.ValidateID("event_id", ev.ID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil, core.NotFoundError(key)
	}
	if err := c.sess.Apply(ev); err != nil {
		return nil, err
	}
	return c.sess.Clone(), nil
}

// Delete removes the session. Deleting an absent session returns
// core.ErrNotFound.
func (s *InMemoryStore) Delete(ctx context.Context, req core.DeleteRequest) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err, "session", req.Key().String()) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	owner := req.Key().Owner()
	sh := s.shardFor(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.owners[owner]
	c, ok := sessions[req.SessionID]
	if !ok {
		return core.NotFoundError(req.Key())
	}

	c.mu.Lock()
	c.deleted = true
	c.mu.Unlock()

	delete(sessions, req.SessionID)
	if len(sessions) == 0 {
		delete(sh.owners, owner)
	}
	return nil
}

// Len returns the number of live sessions across all owners.
func (s *InMemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, sessions := range sh.owners {
			n += len(sessions)
		}
		sh.mu.RUnlock()
	}
	return n
}
