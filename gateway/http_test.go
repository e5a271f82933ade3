package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func statusServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		call     func(*HTTP) error
		wantAuth bool
		wantVal  bool
	}{
		{
			name:     "verify unauthorized",
			status:   http.StatusUnauthorized,
			call:     func(g *HTTP) error { _, err := g.VerifyCode(context.Background(), "a@b.c", "123456"); return err },
			wantAuth: true,
		},
		{
			name:     "verify bad request",
			status:   http.StatusBadRequest,
			call:     func(g *HTTP) error { _, err := g.VerifyCode(context.Background(), "a@b.c", "123456"); return err },
			wantAuth: true,
		},
		{
			name:     "verify unprocessable",
			status:   http.StatusUnprocessableEntity,
			call:     func(g *HTTP) error { _, err := g.VerifyCode(context.Background(), "a@b.c", "123456"); return err },
			wantAuth: true,
		},
		{
			name:     "commit forbidden",
			status:   http.StatusForbidden,
			call:     func(g *HTTP) error { return g.CommitPassword(context.Background(), "a@b.c", "pw", "tok") },
			wantAuth: true,
		},
		{
			name:    "commit policy",
			status:  http.StatusUnprocessableEntity,
			call:    func(g *HTTP) error { return g.CommitPassword(context.Background(), "a@b.c", "pw", "tok") },
			wantVal: true,
		},
		{
			name:   "request unauthorized is remote",
			status: http.StatusUnauthorized,
			call:   func(g *HTTP) error { return g.RequestReset(context.Background(), "a@b.c") },
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			call:   func(g *HTTP) error { return g.RequestReset(context.Background(), "a@b.c") },
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			call:   func(g *HTTP) error { _, err := g.VerifyCode(context.Background(), "a@b.c", "123456"); return err },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(t, tc.status, map[string]string{"message": "server says no"})
			g, err := NewHTTP(srv.URL, HTTPOptions{})
			if err != nil {
				t.Fatalf("NewHTTP failed: %v", err)
			}

			err = tc.call(g)
			switch {
			case tc.wantAuth:
				var aerr *goRecover.AuthError
				if !errors.As(err, &aerr) || aerr.Status != tc.status {
					t.Fatalf("expected AuthError with status %d, got %v", tc.status, err)
				}
			case tc.wantVal:
				var verr *goRecover.ValidationError
				if !errors.As(err, &verr) || !verr.Server || verr.Reason != "server says no" {
					t.Fatalf("expected server ValidationError, got %v", err)
				}
			default:
				var rerr *goRecover.RemoteError
				if !errors.As(err, &rerr) || errors.Is(err, goRecover.ErrAuth) {
					t.Fatalf("expected plain RemoteError, got %v", err)
				}
				if rerr.Message != "server says no" || rerr.Status != tc.status {
					t.Fatalf("unexpected remote error %+v", rerr)
				}
			}
		})
	}
}

func TestHTTPVerifyReturnsToken(t *testing.T) {
	srv := statusServer(t, http.StatusOK, map[string]string{"token": "abc"})
	g, err := NewHTTP(srv.URL+"/", HTTPOptions{})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	token, err := g.VerifyCode(context.Background(), "a@b.c", "123456")
	if err != nil || token != "abc" {
		t.Fatalf("expected token abc, got %q err=%v", token, err)
	}
}

func TestHTTPTimeoutIsRemoteError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	g, err := NewHTTP(srv.URL, HTTPOptions{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	err = g.RequestReset(context.Background(), "a@b.c")
	var rerr *goRecover.RemoteError
	if !errors.As(err, &rerr) || rerr.Message != "request timed out" {
		t.Fatalf("expected timeout RemoteError, got %v", err)
	}
}

func TestHTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g, err := NewHTTP(url, HTTPOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	if err := g.RequestReset(context.Background(), "a@b.c"); !errors.Is(err, goRecover.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestHTTPRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv := statusServer(t, http.StatusUnauthorized, map[string]string{"message": "bad code"})
	g, err := NewHTTP(srv.URL, HTTPOptions{TracerProvider: tp})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	_, _ = g.VerifyCode(context.Background(), "a@b.c", "123456")

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "identity.verify-otp" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	var kind string
	for _, attr := range span.Attributes() {
		if attr.Key == "recovery.error_kind" {
			kind = attr.Value.AsString()
		}
	}
	if kind != "auth" {
		t.Fatalf("expected error kind auth, got %q", kind)
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	if _, err := NewHTTP("ftp://example.com", HTTPOptions{}); err == nil {
		t.Fatalf("expected scheme error")
	}
}
