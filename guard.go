package goRecover

// AllowedScreen returns the only screen that may be rendered for s.
//
// Every screen asks AllowedScreen on mount and after each session change and
// redirects when the answer differs from itself.
func AllowedScreen(s Session) Screen {
	switch s.Step {
	case StepRequested:
		return ScreenVerify
	case StepVerified, StepCompleting:
		return ScreenNewPassword
	case StepDone:
		return ScreenLogin
	default:
		return ScreenRequest
	}
}

// Redirect reports the screen to navigate to when current is not allowed for
// s. ok is false when current may stay.
func Redirect(current Screen, s Session) (Screen, bool) {
	allowed := AllowedScreen(s)
	if allowed == current {
		return current, false
	}
	return allowed, true
}
