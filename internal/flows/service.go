package flows

import "context"

// Service is the centralized flow runner built once by the identity service.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Recovery.LookupAccount != nil
}

func (s Service) RequestReset(ctx context.Context, email string) error {
	return RunRequestReset(ctx, email, s.deps.Recovery)
}

func (s Service) VerifyCode(ctx context.Context, email, code string) (string, error) {
	return RunVerifyCode(ctx, email, code, s.deps.Recovery)
}

func (s Service) CommitPassword(ctx context.Context, email, newPassword, token string) error {
	return RunCommitPassword(ctx, email, newPassword, token, s.deps.Recovery)
}
