package goRecover

import (
	"context"

	"github.com/MrEthical07/goRecover/mirror"
)

// Gateway is the remote identity service as seen by a SessionStore.
//
// Implementations perform exactly one round trip per call and never retry.
// Failures must be returned as *RemoteError, *AuthError or *ValidationError;
// anything else is recorded on the session as a generic remote failure.
// Timeouts are the gateway's responsibility and surface as *RemoteError.
type Gateway interface {
	RequestReset(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (string, error)
	CommitPassword(ctx context.Context, email, newPassword, token string) error
}

// Mirror durably stores the email and token of a session so the workflow can
// be rehydrated after a reload. Implementations are synchronous.
//
// [mirror.Mirror] satisfies this interface over any [mirror.Backend].
type Mirror interface {
	Save(rec mirror.Record) error
	Load() (mirror.Record, error)
	Clear() error
}
