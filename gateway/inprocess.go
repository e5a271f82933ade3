package gateway

import (
	"context"
	"errors"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/identity/httpapi"
)

// InProcess is a goRecover.Gateway over a service living in the same
// process. Errors are mapped exactly as the HTTP API would report them.
type InProcess struct {
	svc httpapi.Recoverer
}

// NewInProcess wraps svc, typically an *identity.Service.
func NewInProcess(svc httpapi.Recoverer) *InProcess {
	return &InProcess{svc: svc}
}

func (g *InProcess) RequestReset(ctx context.Context, email string) error {
	return mapServiceError(goRecover.RemoteRequestReset, g.svc.RequestReset(ctx, email))
}

func (g *InProcess) VerifyCode(ctx context.Context, email, code string) (string, error) {
	token, err := g.svc.VerifyCode(ctx, email, code)
	if err != nil {
		return "", mapServiceError(goRecover.RemoteVerifyOTP, err)
	}
	return token, nil
}

func (g *InProcess) CommitPassword(ctx context.Context, email, newPassword, token string) error {
	return mapServiceError(goRecover.RemoteResetPassword, g.svc.CommitPassword(ctx, email, newPassword, token))
}

func mapServiceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(op, err)
	}
	return mapStatus(op, httpapi.StatusFor(err), httpapi.MessageFor(err))
}
