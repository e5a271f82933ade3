package goRecover

// Step is the stage of a recovery session. Steps are totally ordered and a
// session only moves forward, except through [SessionStore.Cancel].
type Step uint8

const (
	// StepNone means no recovery is in progress.
	StepNone Step = iota
	// StepRequested means a code was sent to the session email.
	StepRequested
	// StepVerified means the code was accepted and a reset token was issued.
	StepVerified
	// StepCompleting means the new password is being committed.
	StepCompleting
	// StepDone means the password was changed.
	StepDone
)

// String returns the lower-case name of the step.
func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepRequested:
		return "requested"
	case StepVerified:
		return "verified"
	case StepCompleting:
		return "completing"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the declared steps.
func (s Step) Valid() bool {
	return s <= StepDone
}

// holdsToken reports whether a session in this step must carry a token.
func (s Step) holdsToken() bool {
	return s == StepVerified || s == StepCompleting
}

// Screen identifies one of the screens taking part in the recovery flow.
type Screen uint8

const (
	// ScreenRequest collects the account email.
	ScreenRequest Screen = iota
	// ScreenVerify collects the one-time passcode.
	ScreenVerify
	// ScreenNewPassword collects and confirms the new password.
	ScreenNewPassword
	// ScreenLogin is where a finished recovery lands.
	ScreenLogin
)

func (s Screen) String() string {
	switch s {
	case ScreenRequest:
		return "request"
	case ScreenVerify:
		return "verify"
	case ScreenNewPassword:
		return "new_password"
	case ScreenLogin:
		return "login"
	default:
		return "unknown"
	}
}

// ErrorKind classifies the failure recorded on a session.
type ErrorKind uint8

const (
	// KindValidation is a rejected field, locally or by server policy.
	KindValidation ErrorKind = iota + 1
	// KindRemote is a transport or server failure.
	KindRemote
	// KindAuth is a wrong or expired code, or an invalid token.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindAuth:
		return "auth"
	default:
		return "none"
	}
}

// ErrorInfo is the last failure surfaced to the user.
type ErrorInfo struct {
	Kind    ErrorKind
	Field   string
	Message string
}

// Session is a point-in-time copy of a recovery session.
//
// Empty Email and Token stand for "not set". Session values returned by
// [SessionStore] are copies; mutating them has no effect on the store.
type Session struct {
	Email   string
	Step    Step
	Token   string
	Err     *ErrorInfo
	Pending bool
	Epoch   uint64
}

// HasToken reports whether the session carries a reset token.
func (s Session) HasToken() bool {
	return s.Token != ""
}

func (s Session) clone() Session {
	out := s
	if s.Err != nil {
		errCopy := *s.Err
		out.Err = &errCopy
	}
	return out
}

// checkInvariants returns a non-nil error when s violates one of the session
// invariants. Used by tests and by rehydration.
func (s Session) checkInvariants() error {
	if !s.Step.Valid() {
		return errInvalidStep
	}
	if s.HasToken() != s.Step.holdsToken() {
		return errTokenStepMismatch
	}
	if s.Step != StepNone && s.Step != StepDone && s.Email == "" {
		return errMissingEmail
	}
	if s.Step == StepDone && s.Email != "" {
		return errDoneRetainsEmail
	}
	return nil
}
