// Package httpapi exposes an identity service over JSON/HTTP.
//
// Routes:
//
//	POST /request-reset   {email}                   -> 200 {accepted}
//	POST /verify-otp      {email, code}             -> 200 {token}
//	POST /reset-password  {email, newPassword, token} -> 200 {}
//	GET  /healthz
//
// Every error body is {"message": "..."}.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goRecover/identity"
	"github.com/MrEthical07/goRecover/internal/logger"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxBodyBytes    = 16 << 10
	requestIDHeader = "X-Request-Id"
	tracerName      = "github.com/MrEthical07/goRecover/identity/httpapi"
)

// Recoverer is the service behind the routes. *identity.Service satisfies it.
type Recoverer interface {
	RequestReset(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (string, error)
	CommitPassword(ctx context.Context, email, newPassword, token string) error
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	AccessLog      bool
	RequestTimeout time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type RequestResetRequest struct {
	Email string `json:"email"`
}

type RequestResetResponse struct {
	Accepted bool `json:"accepted"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type VerifyOTPResponse struct {
	Token string `json:"token"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
	Token       string `json:"token"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type handler struct {
	svc Recoverer
}

// NewRouter mounts the recovery routes on a chi router.
func NewRouter(svc Recoverer, opts Options) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(tracing(opts.TracerProvider))
	r.Use(chimw.RealIP)
	if opts.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader, "traceparent", "tracestate"},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}
	r.Use(clientIP)

	r.Post("/request-reset", h.requestReset)
	r.Post("/verify-otp", h.verifyOTP)
	r.Post("/reset-password", h.resetPassword)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (h *handler) requestReset(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("request-reset", time.Now())()

	var req RequestResetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestResetResponse{Accepted: true})
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("verify-otp", time.Now())()

	var req VerifyOTPRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := h.svc.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyOTPResponse{Token: token})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("reset-password", time.Now())()

	var req ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CommitPassword(r.Context(), req.Email, req.NewPassword, req.Token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, identity.ErrInvalidCode), errors.Is(err, identity.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, identity.ErrNotReady), errors.Is(err, identity.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s request_id=%s: %v", r.Method, r.URL.Path, w.Header().Get(requestIDHeader), err)
	}
	writeError(w, status, MessageFor(err))
}

// MessageFor returns the user-facing message for a service error.
func MessageFor(err error) string {
	switch StatusFor(err) {
	case http.StatusUnprocessableEntity:
		return policyMessage(err)
	case http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}

// policyMessage returns the most specific policy reason carried by err.
func policyMessage(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if inner != identity.ErrPolicy {
				return inner.Error()
			}
		}
	}
	return identity.ErrPolicy.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Message: msg})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// tracing continues the caller's trace from the request headers and records
// one server span per request.
func tracing(tp trace.TracerProvider) func(http.Handler) http.Handler {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("request.id", w.Header().Get(requestIDHeader))),
			)
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(identity.WithClientIP(r.Context(), ip)))
	})
}
