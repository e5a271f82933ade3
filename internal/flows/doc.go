// Package flows contains pure-function orchestrators for the identity service
// recovery endpoints.
//
// Each flow function (RunRequestReset, RunVerifyCode, RunCommitPassword)
// accepts a typed dependency struct and has no side effects beyond those
// dependencies, so every branch is testable with closures.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the code store, token manager, replay
// ledger, rate limiter, directory, audit and metrics. They do NOT own any of
// these resources; ownership stays with identity.Service.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRecover or identity (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency closures.
package flows
