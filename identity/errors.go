package identity

import "errors"

var (
	// ErrNotReady is returned by a Service that was not built by NewService.
	ErrNotReady = errors.New("identity service not initialized")
	// ErrInvalidInput is returned for a missing or malformed email.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited is returned when a request exceeds its budget.
	ErrRateLimited = errors.New("too many requests")
	// ErrUnavailable is returned when a backing store cannot be reached.
	ErrUnavailable = errors.New("service unavailable")
	// ErrInvalidCode is returned for a wrong, expired, used or exhausted code.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrTokenInvalid is returned for a bad, expired or replayed reset token.
	ErrTokenInvalid = errors.New("invalid or expired reset token")
	// ErrPolicy is returned when the new password violates the policy.
	ErrPolicy = errors.New("password does not meet policy")
	// ErrUnknownAccount is returned by a Directory for an unknown email.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrAccountExists is returned by Directory.Add for a duplicate email.
	ErrAccountExists = errors.New("account already exists")
)
