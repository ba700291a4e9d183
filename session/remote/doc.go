// Package remote exposes a core.SessionStore over HTTP and provides the
// matching client.
//
// NewHandler serves any store (in-memory, sqlite or another remote) under
// /v1/apps/{app}/users/{user}/sessions. Client implements core.SessionStore
// by calling such a server, so callers can swap a local backend for a
// remote one without code changes:
//
//	srv := &http.Server{Addr: ":8080", Handler: remote.NewHandler(session.NewInMemoryStore())}
//	client, err := remote.NewClient("http://localhost:8080")
//
// Request and response bodies are JSON by default; deterministic CBOR is
// selected with Content-Type / Accept "application/cbor". Errors are
// returned as {"code", "message"} bodies and mapped back to the core
// sentinel errors by the client.
package remote
