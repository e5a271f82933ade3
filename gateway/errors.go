package gateway

import (
	"net/http"

	goRecover "github.com/MrEthical07/goRecover"
)

// mapStatus converts a non-2xx response of op into a goRecover error.
func mapStatus(op string, status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}

	rejected := status == http.StatusBadRequest || status == http.StatusUnprocessableEntity
	switch {
	case (status == http.StatusUnauthorized || status == http.StatusForbidden) && op != goRecover.RemoteRequestReset:
		return goRecover.NewAuthError(op, status, message, nil)
	case rejected && op == goRecover.RemoteVerifyOTP:
		// A code the server refuses to parse is still a rejected code.
		return goRecover.NewAuthError(op, status, message, nil)
	case rejected && op == goRecover.RemoteResetPassword:
		return &goRecover.ValidationError{Field: goRecover.FieldPassword, Reason: message, Server: true}
	default:
		return goRecover.NewRemoteError(op, status, message, nil)
	}
}
