package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - sessions and events tables
const currentSchemaVersion = 1

const (
	backendName   = "sqlite"
	maxIDAttempts = 8
)

// Options configure a Store.
type Options struct {
	// Logger receives one debug entry per operation and an error entry per
	// backend failure. Defaults to logging.NoOpLogger.
	Logger logging.Logger
	// Now supplies creation and default event timestamps.
	Now func() time.Time
	// NewID generates session ids for requests without one.
	NewID func() string
	// CompressThreshold is the event payload size above which payloads are
	// zstd compressed. Zero or negative disables compression.
	CompressThreshold int
	// BusyTimeout bounds how long a connection waits on a locked database.
	BusyTimeout time.Duration
}

// Store is a durable core.SessionStore backed by SQLite.
type Store struct {
	db   *sql.DB
	opts Options
}

// Compile-time interface check.
var _ core.SessionStore = (*Store)(nil)

// Open creates or opens a SQLite database at the given path and applies the
// schema. The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - a busy timeout for lock contention
//   - foreign key enforcement (events cascade with their session)
//
// Open is idempotent; reopening an existing file keeps its sessions.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		Now:               time.Now,
		NewID:             core.NewID,
		CompressThreshold: DefaultCompressThreshold,
		BusyTimeout:       5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	db, err := sql.Open("sqlite3", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// per-connection pragmas in effect for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, opts: opts}, nil
}

// dsn encodes the pragmas as go-sqlite3 connection parameters so they are
// applied to every connection the pool opens.
func dsn(path string, opts Options) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeout.Milliseconds()))
	return "file:" + path + "?" + q.Encode()
}

// applySchema creates tables if they don't exist and records the schema
// version.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) observe(op string, start time.Time, err error, args ...any) {
	logging.LogStoreOp(s.opts.Logger, backendName, op, time.Since(start), err, core.IsCallerError, args...)
}

// fail converts a driver error into the error reported to callers: context
// errors are returned as is, everything else as a *core.BackendError.
func fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewBackendError(op, err)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create stores a new session row.
func (s *Store) Create(ctx context.Context, req core.CreateRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("create", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := core.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	sess = core.NewSession(key, req.State, s.opts.Now())
	stateJSON, err := marshalState(sess.State)
	if err != nil {
		return nil, fail(ctx, "create", err)
	}

	for attempt := 0; ; attempt++ {
		if req.SessionID == "" {
			sess.ID = s.opts.NewID()
			if err := core.ValidateID("session_id", sess.ID); err != nil {
				return nil, core.NewBackendError("create", err)
			}
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (app_name, user_id, session_id, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, sess.AppName, sess.UserID, sess.ID, stateJSON, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano())
		if err != nil {
			return nil, fail(ctx, "create", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fail(ctx, "create", err)
		}
		if n == 1 {
			return sess, nil
		}
		if req.SessionID != "" {
			return nil, core.AlreadyExistsError(sess.Key())
		}
		if attempt+1 >= maxIDAttempts {
			return nil, core.NewBackendError("create", core.AlreadyExistsError(sess.Key()))
		}
	}
}

// Get returns the session with the events selected by the request's
// filter. The time filter and recency window are evaluated in SQL.
func (s *Store) Get(ctx context.Context, req core.GetRequest) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err, "session", req.Key().String()) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(ctx, "get", err)
	}
	defer tx.Rollback()

	sess, err = loadSession(ctx, tx, req.Key())
	if err != nil {
		return nil, s.classify(ctx, "get", err)
	}
	if sess.Events, err = loadEvents(ctx, tx, req.Key(), req.Filter()); err != nil {
		return nil, fail(ctx, "get", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(ctx, "get", err)
	}
	return sess, nil
}

// List returns the sessions of one owner without events.
func (s *Store) List(ctx context.Context, req core.ListRequest) (list []*core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err, "app_name", req.AppName, "user_id", req.UserID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, state, created_at, updated_at
		FROM sessions
		WHERE app_name = ? AND user_id = ?
		ORDER BY created_at, session_id
	`, req.AppName, req.UserID)
	if err != nil {
		return nil, fail(ctx, "list", err)
	}
	defer rows.Close()

	list = make([]*core.Session, 0)
	for rows.Next() {
		var (
			id                 string
			stateJSON          string
			created, updatedNs int64
		)
		if err := rows.Scan(&id, &stateJSON, &created, &updatedNs); err != nil {
			return nil, fail(ctx, "list", err)
		}
		state, err := unmarshalState(stateJSON)
		if err != nil {
			return nil, fail(ctx, "list", err)
		}
		list = append(list, &core.Session{
			ID:        id,
			AppName:   req.AppName,
			UserID:    req.UserID,
			State:     state,
			Events:    core.EventLog{},
			CreatedAt: fromNanos(created),
			UpdatedAt: fromNanos(updatedNs),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fail(ctx, "list", err)
	}
	core.SortSessions(list)
	return list, nil
}

// AppendEvent merges ev's state delta and appends ev in one transaction.
// Partial events are not stored; the current session is returned for them.
func (s *Store) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) (sess *core.Session, err error) {
	start := time.Now()
	defer func() { s.observe("append_event", start, err, "session", key.String(), "event_id", ev.ID) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if ev.Partial {
		return s.Get(ctx, core.GetRequest{AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID})
	}

	ev = core.PrepareEvent(ev, s.opts.Now())
	if err := core.ValidateID("event_id", ev.ID); err != nil {
		return nil, err
	}
	payload, enc, err := encodeEvent(ev, s.opts.CompressThreshold)
	if err != nil {
		return nil, fail(ctx, "append_event", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(ctx, "append_event", err)
	}
	defer tx.Rollback()

	sess, err = loadSession(ctx, tx, key)
	if err != nil {
		return nil, s.classify(ctx, "append_event", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE app_name = ? AND user_id = ? AND session_id = ? AND event_id = ?
	`, key.AppName, key.UserID, key.SessionID, ev.ID).Scan(&exists)
	if err != nil {
		return nil, fail(ctx, "append_event", err)
	}
	if exists > 0 {
		return nil, core.InvalidArgumentf("duplicate event id %q", ev.ID)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM events
		WHERE app_name = ? AND user_id = ? AND session_id = ?
	`, key.AppName, key.UserID, key.SessionID).Scan(&seq)
	if err != nil {
		return nil, fail(ctx, "append_event", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (app_name, user_id, session_id, seq, event_id, timestamp, encoding, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key.AppName, key.UserID, key.SessionID, seq, ev.ID, ev.Timestamp.UnixNano(), int(enc), payload); err != nil {
		return nil, fail(ctx, "append_event", err)
	}

	sess.State = sess.State.ApplyDelta(ev.Actions.StateDelta)
	if ev.Timestamp.After(sess.UpdatedAt) {
		sess.UpdatedAt = ev.Timestamp
	}
	stateJSON, err := marshalState(sess.State)
	if err != nil {
		return nil, fail(ctx, "append_event", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ?
		WHERE app_name = ? AND user_id = ? AND session_id = ?
	`, stateJSON, sess.UpdatedAt.UnixNano(), key.AppName, key.UserID, key.SessionID); err != nil {
		return nil, fail(ctx, "append_event", err)
	}

	if sess.Events, err = loadEvents(ctx, tx, key, core.EventFilter{}); err != nil {
		return nil, fail(ctx, "append_event", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(ctx, "append_event", err)
	}
	return sess, nil
}

// Delete removes the session and, by cascade, its events.
func (s *Store) Delete(ctx context.Context, req core.DeleteRequest) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err, "session", req.Key().String()) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?
	`, req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return fail(ctx, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail(ctx, "delete", err)
	}
	if n == 0 {
		return core.NotFoundError(req.Key())
	}
	return nil
}

// classify passes ErrNotFound through and wraps everything else.
func (s *Store) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return err
	}
	return fail(ctx, op, err)
}

func loadSession(ctx context.Context, q querier, key core.SessionKey) (*core.Session, error) {
	var (
		stateJSON          string
		created, updatedNs int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT state, created_at, updated_at FROM sessions
		WHERE app_name = ? AND user_id = ? AND session_id = ?
	`, key.AppName, key.UserID, key.SessionID).Scan(&stateJSON, &created, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError(key)
	}
	if err != nil {
		return nil, err
	}
	state, err := unmarshalState(stateJSON)
	if err != nil {
		return nil, err
	}
	return &core.Session{
		ID:        key.SessionID,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     state,
		Events:    core.EventLog{},
		CreatedAt: fromNanos(created),
		UpdatedAt: fromNanos(updatedNs),
	}, nil
}

// loadEvents returns the events selected by f in append order. The time
// filter is applied before the recency window.
func loadEvents(ctx context.Context, q querier, key core.SessionKey, f core.EventFilter) (core.EventLog, error) {
	query := `
		SELECT encoding, payload FROM events
		WHERE app_name = ? AND user_id = ? AND session_id = ?`
	args := []any{key.AppName, key.UserID, key.SessionID}
	if !f.After.IsZero() {
		query += ` AND timestamp > ?`
		args = append(args, f.After.UnixNano())
	}
	query += ` ORDER BY seq DESC`
	if f.NumRecentEvents > 0 {
		query += ` LIMIT ?`
		args = append(args, f.NumRecentEvents)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := core.EventLog{}
	for rows.Next() {
		var (
			enc     int
			payload []byte
		)
		if err := rows.Scan(&enc, &payload); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(payload, encoding(enc))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
