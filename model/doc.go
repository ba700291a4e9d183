// Package model defines the provider‑agnostic abstractions for calling
// language models with a session's conversation history.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Rebuild provider messages from core.Content, attaching tool results
//     to the calls that produced them
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (openai, anthropic) implement the Model interface from this
// package so the runner stays decoupled from vendor SDKs.
package model
