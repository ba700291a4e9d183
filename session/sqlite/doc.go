// Package sqlite implements core.SessionStore on a SQLite database file.
//
// Sessions and events are kept in two tables keyed by the full
// (app, user, session) triple. State is stored as canonical JSON (RFC 8785)
// and event payloads as canonical JSON, zstd compressed above a size
// threshold when that makes them smaller. Every AppendEvent is a single
// transaction, so a failure never leaves a partially merged state or an
// orphaned event behind.
//
// The database is opened with one connection: SQLite allows a single writer,
// and serializing on the pool also serializes appends to each session.
//
// Usage:
//
//	store, err := sqlite.Open("sessions.db")
//	if err != nil { ... }
//	defer store.Close()
package sqlite
