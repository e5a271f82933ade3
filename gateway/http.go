package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "github.com/MrEthical07/goRecover/gateway"
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 64 << 10
)

// HTTPOptions configures an HTTP gateway. Zero values select defaults.
type HTTPOptions struct {
	// Timeout bounds each round trip. Ignored when Client is set.
	Timeout        time.Duration
	Client         *http.Client
	TracerProvider trace.TracerProvider
	Header         http.Header
}

// HTTP is a goRecover.Gateway over JSON/HTTP. It performs one request per
// call and never retries.
type HTTP struct {
	base   *url.URL
	client *http.Client
	tracer trace.Tracer
	header http.Header
	prop   propagation.TextMapPropagator
}

// NewHTTP returns a gateway for the identity service at baseURL.
func NewHTTP(baseURL string, opts HTTPOptions) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse identity service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("identity service url must be http or https")
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &HTTP{
		base:   u,
		client: client,
		tracer: tp.Tracer(tracerName),
		header: opts.Header.Clone(),
		prop:   otel.GetTextMapPropagator(),
	}, nil
}

func (g *HTTP) RequestReset(ctx context.Context, email string) error {
	return g.call(ctx, goRecover.RemoteRequestReset, map[string]string{"email": email}, nil)
}

func (g *HTTP) VerifyCode(ctx context.Context, email, code string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := g.call(ctx, goRecover.RemoteVerifyOTP, map[string]string{"email": email, "code": code}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (g *HTTP) CommitPassword(ctx context.Context, email, newPassword, token string) error {
	body := map[string]string{"email": email, "newPassword": newPassword, "token": token}
	return g.call(ctx, goRecover.RemoteResetPassword, body, nil)
}

func (g *HTTP) call(ctx context.Context, op string, in, out any) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := g.tracer.Start(ctx, "identity."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("recovery.error_kind", kindOf(err)))
		}
		span.End()
	}()

	raw, err := json.Marshal(in)
	if err != nil {
		return goRecover.NewRemoteError(op, 0, "could not encode request", err)
	}

	endpoint := g.base.JoinPath(op)
	span.SetAttributes(attribute.String("http.url", endpoint.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(raw))
	if err != nil {
		return goRecover.NewRemoteError(op, 0, "could not build request", err)
	}
	for k, vs := range g.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	g.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		return mapStatus(op, resp.StatusCode, e.Message)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return goRecover.NewRemoteError(op, resp.StatusCode, "malformed response", err)
		}
	}
	return nil
}

func transportError(op string, err error) error {
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		return goRecover.NewRemoteError(op, 0, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return goRecover.NewRemoteError(op, 0, "request cancelled", err)
	}
	return goRecover.NewRemoteError(op, 0, "service unreachable", err)
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, goRecover.ErrAuth):
		return "auth"
	case errors.Is(err, goRecover.ErrValidation):
		return "validation"
	default:
		return "remote"
	}
}
