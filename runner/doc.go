// Package runner drives conversation turns on top of a core.SessionStore.
//
// A turn appends the user's content as an event, reads the session back,
// sends its conversation history to a model.Model and appends the model's
// final answer as a new event. Streaming chunks are passed to the store as
// partial events, which the store acknowledges without persisting. When
// Options.OutputKey is set the answer text is also written into session
// state through the response event's delta.
package runner
