package goRecover

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrRemote matches every *RemoteError and *AuthError.
	ErrRemote = errors.New("identity service request failed")
	// ErrAuth matches every *AuthError.
	ErrAuth = errors.New("identity service rejected the credential")
	// ErrTransition matches every *TransitionError.
	ErrTransition = errors.New("operation not allowed in current step")
	// ErrStoreNotReady is returned by a zero-value or unbuilt SessionStore.
	ErrStoreNotReady = errors.New("session store not initialized")
	// ErrGatewayRequired is returned by Build when no Gateway was configured.
	ErrGatewayRequired = errors.New("gateway required")
)

var (
	errInvalidStep       = errors.New("invalid step")
	errTokenStepMismatch = errors.New("token presence does not match step")
	errMissingEmail      = errors.New("email required past step none")
	errDoneRetainsEmail  = errors.New("finished session retains email")
	errStaleResponse     = errors.New("response arrived after cancel")
)

// Op names a SessionStore operation.
type Op string

const (
	OpRequestReset      Op = "request_reset"
	OpSubmitCode        Op = "submit_code"
	OpSubmitNewPassword Op = "submit_new_password"
	OpResendCode        Op = "resend_code"
	OpCancel            Op = "cancel"
)

// Remote operation names, as exposed by the identity service.
const (
	RemoteRequestReset  = "request-reset"
	RemoteVerifyOTP     = "verify-otp"
	RemoteResetPassword = "reset-password"
)

// ValidationError reports a rejected input field. Local validation errors are
// raised before any remote call; Server is set when the identity service
// rejected the value on policy grounds.
type ValidationError struct {
	Field  string
	Reason string
	Server bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError reports a transport or server failure. Message is safe to show
// to the user.
type RemoteError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return e.Op + ": " + e.Message
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AuthError is a RemoteError raised for a wrong or expired code, or an
// invalid or expired reset token. It matches both ErrAuth and ErrRemote.
type AuthError struct {
	RemoteError
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth || target == ErrRemote
}

// TransitionError reports an operation that is illegal for the current step,
// or that was attempted while another operation was pending. The session is
// left untouched.
type TransitionError struct {
	Op      Op
	Step    Step
	Pending bool
}

func (e *TransitionError) Error() string {
	if e.Pending {
		return fmt.Sprintf("%s not allowed at step %s: operation pending", e.Op, e.Step)
	}
	return fmt.Sprintf("%s not allowed at step %s", e.Op, e.Step)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransition
}

// NewRemoteError builds a RemoteError for gateway implementations.
func NewRemoteError(op string, status int, message string, cause error) *RemoteError {
	return &RemoteError{Op: op, Status: status, Message: message, Err: cause}
}

// NewAuthError builds an AuthError for gateway implementations.
func NewAuthError(op string, status int, message string, cause error) *AuthError {
	return &AuthError{RemoteError: RemoteError{Op: op, Status: status, Message: message, Err: cause}}
}

// errorInfoFrom converts a gateway or validation failure into the value
// recorded on the session. Unknown errors are treated as remote failures so
// that nothing escapes the store untyped.
func errorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return &ErrorInfo{Kind: KindValidation, Field: verr.Field, Message: verr.Reason}
	}
	var aerr *AuthError
	if errors.As(err, &aerr) {
		return &ErrorInfo{Kind: KindAuth, Message: displayMessage(aerr.Message, "verification failed")}
	}
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return &ErrorInfo{Kind: KindRemote, Message: displayMessage(rerr.Message, "service unavailable")}
	}
	return &ErrorInfo{Kind: KindRemote, Message: "service unavailable"}
}

func displayMessage(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
