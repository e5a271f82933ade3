// Package goRecover implements the client side of an account-recovery workflow:
// request a one-time passcode, verify it, then commit a new password.
//
// A [SessionStore] owns one recovery [Session] and is the only component allowed
// to mutate it. Every operation is checked against the current [Step] before any
// input validation or remote call, so out-of-order calls fail with a
// [*TransitionError] instead of corrupting the session. Remote calls go through a
// [Gateway]; the durable subset of the session (email and token) is mirrored
// through a [Mirror] so the workflow survives process or page reloads.
// [AllowedScreen] maps a session onto the one screen that is legal to render.
//
// # Architecture boundaries
//
// goRecover is the public surface. It exposes [SessionStore], [Builder], [Config],
// the error taxonomy and value types (Session, Step, Screen, MetricsSnapshot).
// Transports live in gateway/, durable storage adapters in mirror/, and the
// reference identity service in identity/.
//
// # What this package must NOT do
//
//   - Import gateway/, identity/ or any package that re-imports goRecover.
//   - Return remote failures from SessionStore operations; they are recorded on
//     the session instead.
//   - Perform I/O outside of SessionStore methods and Builder.Build.
//
// # Concurrency
//
// SessionStore methods are safe to call from multiple goroutines. At most one
// gateway call is outstanding per session; a call racing an in-flight one is
// either debounced (RequestReset) or rejected with a TransitionError. Responses
// that arrive after Cancel are dropped by comparing the session epoch.
package goRecover
