// Package stores provides Redis-backed, short-lived records for the password
// recovery flow: one-time passcode challenges and the reset token replay
// ledger.
//
// # Design
//
// Challenges are persisted as versioned, binary-encoded records with a TTL.
// Consume uses a WATCH/MULTI optimistic transaction with retry on
// contention, so concurrent guesses cannot both succeed or both escape the
// attempt counter. Records are single use and code comparisons are constant
// time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT
// generate codes, enforce rate limits or decide outcomes; the identity
// service does.
//
// # What this package must NOT do
//
//   - Import goRecover or any sibling internal package.
//   - Log or store plaintext codes.
//   - Use non-constant-time comparisons for secret matching.
package stores
