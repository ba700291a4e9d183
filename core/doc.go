// Package core provides the foundational domain types and the storage
// contract of sessionmesh. It defines:
//
//   - Value / StateMap (JSON-like state and its scope rules)
//   - Event / EventLog (immutable turn records and their windows)
//   - Session (the aggregate mutated only by Apply)
//   - SessionStore (the contract every backend satisfies identically)
//   - The error taxonomy shared by all backends
//
// State keys are classified by prefix: "app:", "user:", "temp:" or none
// (session scope). Temp keys are visible inside an event's delta but never
// persisted. App and user keys are stored per session; their prefix names a
// scope but does not share the value across sessions.
//
// The package keeps implementation concerns (locking, persistence,
// transport) out of scope. Concrete backends live in the session package and
// its sub-packages.
package core
