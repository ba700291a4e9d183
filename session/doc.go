// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the Session aggregate) live in the core package
// so higher level packages (runner, server) never depend on concrete
// storage.
//
// InMemoryStore in this package is the reference backend. Durable and
// remote backends live in sub-packages (sqlite, remote); all of them pass
// the conformance suite in sessiontest, and only the wiring layer decides
// which implementation to instantiate.
package session
