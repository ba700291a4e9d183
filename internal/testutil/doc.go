// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core objects (sessions, events, tool parts).
// They are not intended for production usage.
package testutil
