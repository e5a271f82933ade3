// Package jwt issues and verifies short-lived password reset tokens. A reset
// token is a signed JWT bound to one account email, one purpose and one jti so
// the identity service can enforce single use.
package jwt
