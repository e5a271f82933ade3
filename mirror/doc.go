// Package mirror persists the durable subset of a recovery session (email and
// reset token) under two scoped keys, reset_email and reset_token.
//
// # Design
//
// [Mirror] maps the logical record onto a [Backend], a minimal string
// key/value store. Backends are provided for process memory, Redis, SQLite and
// a YAML file. None of them expire entries: a token stays until Clear.
//
// # What this package must NOT do
//
//   - Import goRecover (the root package depends on this one).
//   - Interpret the token; it is opaque.
//   - Block indefinitely: network backends apply a per-operation timeout.
package mirror
