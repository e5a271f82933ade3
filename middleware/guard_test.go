package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	goRecover "github.com/MrEthical07/goRecover"
)

type fixedSession goRecover.Session

func (f fixedSession) Snapshot() goRecover.Session { return goRecover.Session(f) }

var screenPaths = map[goRecover.Screen]string{
	goRecover.ScreenRequest:     "/recover",
	goRecover.ScreenVerify:      "/recover/verify",
	goRecover.ScreenNewPassword: "/recover/password",
	goRecover.ScreenLogin:       "/login",
}

func serve(t *testing.T, s goRecover.Session, screen goRecover.Screen) *httptest.ResponseRecorder {
	t.Helper()
	resolve := func(*http.Request) (Snapshotter, error) { return fixedSession(s), nil }
	h := ScreenGuard(resolve, screen, screenPaths)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			t.Fatalf("session missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, screenPaths[screen], nil))
	return rec
}

func TestScreenGuardRedirects(t *testing.T) {
	cases := []struct {
		name     string
		session  goRecover.Session
		screen   goRecover.Screen
		location string
	}{
		{"verify without request", goRecover.Session{}, goRecover.ScreenVerify, "/recover"},
		{"password without token", goRecover.Session{Step: goRecover.StepRequested, Email: "a@b.c"}, goRecover.ScreenNewPassword, "/recover/verify"},
		{"request while verified", goRecover.Session{Step: goRecover.StepVerified, Email: "a@b.c", Token: "t"}, goRecover.ScreenRequest, "/recover/password"},
		{"password after done", goRecover.Session{Step: goRecover.StepDone}, goRecover.ScreenNewPassword, "/login"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, tc.session, tc.screen)
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("expected 303, got %d", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tc.location {
				t.Fatalf("expected redirect to %s, got %s", tc.location, got)
			}
		})
	}
}

func TestScreenGuardServesAllowedScreen(t *testing.T) {
	rec := serve(t, goRecover.Session{Step: goRecover.StepCompleting, Email: "a@b.c", Token: "t"}, goRecover.ScreenNewPassword)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestScreenGuardResolverFailure(t *testing.T) {
	resolve := func(*http.Request) (Snapshotter, error) { return nil, errors.New("no cookie") }
	h := ScreenGuard(resolve, goRecover.ScreenRequest, screenPaths)(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recover", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
