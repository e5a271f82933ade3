// Package gateway provides goRecover.Gateway implementations: [HTTP] talks to
// an identity service over JSON/HTTP and [InProcess] calls an in-process
// identity.Service directly.
//
// Both map service failures onto the goRecover error taxonomy the same way:
// 401 and 403 on verify or commit become *goRecover.AuthError, 400 and 422
// on commit become a server-side *goRecover.ValidationError, and everything
// else, including transport failures and timeouts, becomes
// *goRecover.RemoteError.
package gateway
