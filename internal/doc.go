// Package internal contains helpers private to goRecover: one-time code
// generation and enumeration-delay jitter.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for the identity service endpoints
//   - limiters: Redis fixed-window limiters for recovery requests
//   - logger: leveled, prefixed logger used by the binaries
//   - security: configuration posture report for the identity service
//   - startup: Redis connection helpers for the binaries
//   - stores: Redis-backed reset code and token replay records
//   - telemetry: OTLP trace export setup
//   - tui: terminal screens for the recovery client
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRecover API.
package internal
