// Package limiters provides Redis fixed-window rate limiters for the recovery
// endpoints of the identity service.
//
// [RecoveryLimiter] throttles code requests and code checks per email and per
// client IP. All methods are nil-safe: a nil limiter allows everything.
//
// # What this package must NOT do
//
//   - Import goRecover or any sibling internal package.
//   - Make policy decisions beyond counting; the service decides consequences.
package limiters
