// Package middleware exposes HTTP middleware that keeps server-rendered
// recovery screens in step with a goRecover session.
//
// # Guards
//
//   - [ScreenGuard] resolves the session behind a request, runs
//     goRecover.AllowedScreen, and redirects to the legal screen when the
//     requested one differs.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into goRecover.Redirect calls. It
// does NOT decide navigation itself; every decision is delegated to the
// route guard in the root package.
//
// # What this package must NOT do
//
//   - Mutate the session.
//   - Contact the identity service.
package middleware
