package goRecover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRecover/mirror"
)

type fakeGateway struct {
	mu sync.Mutex

	requestCalls int
	verifyCalls  int
	commitCalls  int

	requestErr  error
	verifyToken string
	verifyErr   error
	commitErr   error

	lastEmail    string
	lastCode     string
	lastPassword string
	lastToken    string

	// When gate is non-nil every call signals started and waits for gate.
	gate    chan struct{}
	started chan string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verifyToken: "reset-token-1"}
}

func (g *fakeGateway) blockCalls() {
	g.gate = make(chan struct{})
	g.started = make(chan string, 16)
}

func (g *fakeGateway) wait(op string) {
	if g.gate == nil {
		return
	}
	g.started <- op
	<-g.gate
}

func (g *fakeGateway) RequestReset(_ context.Context, email string) error {
	g.mu.Lock()
	g.requestCalls++
	g.lastEmail = email
	err := g.requestErr
	g.mu.Unlock()

	g.wait(RemoteRequestReset)
	return err
}

func (g *fakeGateway) VerifyCode(_ context.Context, email, code string) (string, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.lastEmail, g.lastCode = email, code
	token, err := g.verifyToken, g.verifyErr
	g.mu.Unlock()

	g.wait(RemoteVerifyOTP)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (g *fakeGateway) CommitPassword(_ context.Context, email, newPassword, token string) error {
	g.mu.Lock()
	g.commitCalls++
	g.lastEmail, g.lastPassword, g.lastToken = email, newPassword, token
	err := g.commitErr
	g.mu.Unlock()

	g.wait(RemoteResetPassword)
	return err
}

func (g *fakeGateway) calls() (int, int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestCalls, g.verifyCalls, g.commitCalls
}

type failingMirror struct{}

func (failingMirror) Save(mirror.Record) error { return mirror.ErrBackendUnavailable }

func (failingMirror) Load() (mirror.Record, error) {
	return mirror.Record{}, mirror.ErrBackendUnavailable
}

func (failingMirror) Clear() error { return mirror.ErrBackendUnavailable }

func newTestMirror(t *testing.T) *mirror.Mirror {
	t.Helper()
	m, err := mirror.New(mirror.NewMemory())
	if err != nil {
		t.Fatalf("mirror.New failed: %v", err)
	}
	return m
}

func buildTestStore(t *testing.T, g Gateway, m Mirror) *SessionStore {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	store, err := New().WithConfig(cfg).WithGateway(g).WithMirror(m).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func waitStarted(t *testing.T, g *fakeGateway, want string) {
	t.Helper()
	select {
	case op := <-g.started:
		if op != want {
			t.Fatalf("expected gateway call %q, got %q", want, op)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for gateway call %q", want)
	}
}

func mustInvariants(t *testing.T, s Session) {
	t.Helper()
	if err := s.checkInvariants(); err != nil {
		t.Fatalf("session invariant violated: %v (%+v)", err, s)
	}
}

func TestHappyPathReachesDone(t *testing.T) {
	g := newFakeGateway()
	m := newTestMirror(t)
	store := buildTestStore(t, g, m)
	ctx := context.Background()

	if got := AllowedScreen(store.Snapshot()); got != ScreenRequest {
		t.Fatalf("expected request screen, got %s", got)
	}

	if err := store.RequestReset(ctx, "  a@b.com "); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	s := store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepRequested || s.Email != "a@b.com" || s.Pending || s.Err != nil {
		t.Fatalf("unexpected session after request: %+v", s)
	}
	if rec, _ := m.Load(); rec != (mirror.Record{Email: "a@b.com"}) {
		t.Fatalf("unexpected mirror after request: %+v", rec)
	}
	if got := AllowedScreen(s); got != ScreenVerify {
		t.Fatalf("expected verify screen, got %s", got)
	}

	if err := store.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	s = store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepVerified || s.Token != "reset-token-1" {
		t.Fatalf("unexpected session after verify: %+v", s)
	}
	if rec, _ := m.Load(); rec != (mirror.Record{Email: "a@b.com", Token: "reset-token-1"}) {
		t.Fatalf("unexpected mirror after verify: %+v", rec)
	}
	if got := AllowedScreen(s); got != ScreenNewPassword {
		t.Fatalf("expected new password screen, got %s", got)
	}

	if err := store.SubmitNewPassword(ctx, "secret1", "secret1"); err != nil {
		t.Fatalf("SubmitNewPassword failed: %v", err)
	}
	s = store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepDone || s.Email != "" || s.Token != "" || s.Err != nil {
		t.Fatalf("unexpected session after commit: %+v", s)
	}
	if rec, _ := m.Load(); !rec.IsZero() {
		t.Fatalf("expected empty mirror after commit, got %+v", rec)
	}
	if got := AllowedScreen(s); got != ScreenLogin {
		t.Fatalf("expected login screen, got %s", got)
	}

	if g.lastEmail != "a@b.com" || g.lastPassword != "secret1" || g.lastToken != "reset-token-1" {
		t.Fatalf("unexpected commit arguments: email=%q password=%q token=%q", g.lastEmail, g.lastPassword, g.lastToken)
	}

	snap := store.MetricsSnapshot()
	if snap.Counters[MetricResetRequested] != 1 || snap.Counters[MetricCodeVerified] != 1 || snap.Counters[MetricPasswordCommitted] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestRequestResetRejectsInvalidEmailWithoutRemoteCall(t *testing.T) {
	for _, email := range []string{"", "   ", "not-an-email"} {
		g := newFakeGateway()
		store := buildTestStore(t, g, newTestMirror(t))

		err := store.RequestReset(context.Background(), email)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != FieldEmail {
			t.Fatalf("email %q: expected email ValidationError, got %v", email, err)
		}
		if r, _, _ := g.calls(); r != 0 {
			t.Fatalf("email %q: expected no gateway call, got %d", email, r)
		}
		s := store.Snapshot()
		if s.Step != StepNone || s.Err == nil || s.Err.Kind != KindValidation {
			t.Fatalf("email %q: unexpected session %+v", email, s)
		}
	}
}

func TestRequestResetRemoteFailureKeepsStepNone(t *testing.T) {
	g := newFakeGateway()
	g.requestErr = NewRemoteError(RemoteRequestReset, 503, "try again later", nil)
	m := newTestMirror(t)
	store := buildTestStore(t, g, m)

	if err := store.RequestReset(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("remote failures must not be returned, got %v", err)
	}
	s := store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepNone || s.Pending {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Err == nil || s.Err.Kind != KindRemote || s.Err.Message != "try again later" {
		t.Fatalf("expected remote error recorded, got %+v", s.Err)
	}
	if rec, _ := m.Load(); !rec.IsZero() {
		t.Fatalf("mirror must stay empty, got %+v", rec)
	}
}

func TestSubmitCodeWrongCodeRecordsAuthError(t *testing.T) {
	g := newFakeGateway()
	g.verifyErr = NewAuthError(RemoteVerifyOTP, 401, "invalid or expired code", nil)
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if err := store.SubmitCode(ctx, "000000"); err != nil {
		t.Fatalf("auth failures must not be returned, got %v", err)
	}

	s := store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepRequested || s.Token != "" || s.Pending {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Err == nil || s.Err.Kind != KindAuth {
		t.Fatalf("expected auth error recorded, got %+v", s.Err)
	}
	if store.MetricsSnapshot().Counters[MetricCodeRejected] != 1 {
		t.Fatal("expected code rejection counted")
	}
}

func TestSubmitCodeMalformedNeverReachesGateway(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	for _, code := range []string{"", "12345", "1234567", "12a456", "12 456"} {
		err := store.SubmitCode(ctx, code)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("code %q: expected ErrValidation, got %v", code, err)
		}
	}
	if _, v, _ := g.calls(); v != 0 {
		t.Fatalf("expected no verify call, got %d", v)
	}
	s := store.Snapshot()
	if s.Step != StepRequested || s.Err == nil || s.Err.Field != FieldCode {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestSubmitCodeEmptyTokenIsRemoteFailure(t *testing.T) {
	g := newFakeGateway()
	g.verifyToken = ""
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	_ = store.RequestReset(ctx, "a@b.com")
	if err := store.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	s := store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepRequested || s.Err == nil || s.Err.Kind != KindRemote {
		t.Fatalf("expected remote error at requested, got %+v", s)
	}
}

func verifiedStore(t *testing.T, g *fakeGateway, m Mirror) *SessionStore {
	t.Helper()
	store := buildTestStore(t, g, m)
	ctx := context.Background()
	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if err := store.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if s := store.Snapshot(); s.Step != StepVerified {
		t.Fatalf("expected verified, got %+v", s)
	}
	return store
}

func TestSubmitNewPasswordLocalValidation(t *testing.T) {
	cases := []struct {
		name      string
		password  string
		confirm   string
		wantField string
	}{
		{name: "empty password", password: "", confirm: "secret1", wantField: FieldPassword},
		{name: "empty confirm", password: "secret1", confirm: "", wantField: FieldConfirm},
		{name: "too short", password: "abc", confirm: "abc", wantField: FieldPassword},
		{name: "mismatch", password: "secret1", confirm: "secret2", wantField: FieldConfirm},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newFakeGateway()
			store := verifiedStore(t, g, newTestMirror(t))

			err := store.SubmitNewPassword(context.Background(), tc.password, tc.confirm)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.wantField || verr.Server {
				t.Fatalf("expected local ValidationError on %s, got %v", tc.wantField, err)
			}
			if _, _, c := g.calls(); c != 0 {
				t.Fatalf("expected no commit call, got %d", c)
			}
			s := store.Snapshot()
			mustInvariants(t, s)
			if s.Step != StepVerified || s.Token == "" {
				t.Fatalf("unexpected session: %+v", s)
			}
		})
	}
}

func TestSubmitNewPasswordFailureRevertsToVerified(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind ErrorKind
		metric   MetricID
	}{
		{
			name:     "expired token",
			err:      NewAuthError(RemoteResetPassword, 401, "reset session expired", nil),
			wantKind: KindAuth,
			metric:   MetricCommitAuthFailure,
		},
		{
			name:     "server policy",
			err:      &ValidationError{Field: FieldPassword, Reason: "password too weak", Server: true},
			wantKind: KindValidation,
			metric:   MetricCommitPolicyRejected,
		},
		{
			name:     "transport",
			err:      NewRemoteError(RemoteResetPassword, 0, "network unreachable", context.DeadlineExceeded),
			wantKind: KindRemote,
			metric:   MetricCommitRemoteFailure,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newFakeGateway()
			m := newTestMirror(t)
			store := verifiedStore(t, g, m)
			g.commitErr = tc.err

			if err := store.SubmitNewPassword(context.Background(), "secret1", "secret1"); err != nil {
				t.Fatalf("remote failures must not be returned, got %v", err)
			}
			s := store.Snapshot()
			mustInvariants(t, s)
			if s.Step != StepVerified || s.Token != "reset-token-1" || s.Pending {
				t.Fatalf("expected revert to verified with token, got %+v", s)
			}
			if s.Err == nil || s.Err.Kind != tc.wantKind {
				t.Fatalf("expected %s error, got %+v", tc.wantKind, s.Err)
			}
			if rec, _ := m.Load(); rec.Token != "reset-token-1" {
				t.Fatalf("mirror must keep token, got %+v", rec)
			}
			if store.MetricsSnapshot().Counters[tc.metric] != 1 {
				t.Fatalf("expected metric %d counted", tc.metric)
			}
		})
	}
}

func TestOperationsOutOfOrderFailWithTransitionError(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	checks := []struct {
		name string
		run  func() error
	}{
		{"submit code at none", func() error { return store.SubmitCode(ctx, "123456") }},
		{"new password at none", func() error { return store.SubmitNewPassword(ctx, "secret1", "secret1") }},
		{"resend at none", func() error { return store.ResendCode(ctx) }},
	}
	for _, c := range checks {
		before := store.Snapshot()
		err := c.run()
		var terr *TransitionError
		if !errors.As(err, &terr) || terr.Step != StepNone {
			t.Fatalf("%s: expected TransitionError at none, got %v", c.name, err)
		}
		if after := store.Snapshot(); after != before {
			t.Fatalf("%s: session changed: %+v -> %+v", c.name, before, after)
		}
	}

	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if err := store.RequestReset(ctx, "other@b.com"); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected TransitionError for second request, got %v", err)
	}
	if err := store.SubmitNewPassword(ctx, "secret1", "secret1"); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected TransitionError for commit at requested, got %v", err)
	}
	if s := store.Snapshot(); s.Email != "a@b.com" {
		t.Fatalf("email must be immutable after request, got %q", s.Email)
	}

	r, v, c := g.calls()
	if r != 1 || v != 0 || c != 0 {
		t.Fatalf("unexpected gateway calls: request=%d verify=%d commit=%d", r, v, c)
	}
}

func TestTransitionCheckPrecedesValidation(t *testing.T) {
	store := buildTestStore(t, newFakeGateway(), newTestMirror(t))

	err := store.SubmitCode(context.Background(), "bad")
	if !errors.Is(err, ErrTransition) {
		t.Fatalf("expected TransitionError before validation, got %v", err)
	}
	if s := store.Snapshot(); s.Err != nil {
		t.Fatalf("transition failure must not touch the session, got %+v", s.Err)
	}
}

func TestRequestResetValidatesBeforeTransition(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, newTestMirror(t))
	if err := store.RequestReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}

	err := store.RequestReset(context.Background(), "bad")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != FieldEmail {
		t.Fatalf("expected email ValidationError at requested, got %v", err)
	}
	s := store.Snapshot()
	if s.Step != StepRequested || s.Email != "alice@example.com" || s.Err != nil {
		t.Fatalf("rejected email must not touch a requested session, got %+v", s)
	}

	if err := store.RequestReset(context.Background(), "bob@example.com"); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected TransitionError for a valid email at requested, got %v", err)
	}
	if r, _, _ := g.calls(); r != 1 {
		t.Fatalf("expected one gateway call, got %d", r)
	}
}

func TestDoneIsTerminalUntilCancel(t *testing.T) {
	g := newFakeGateway()
	store := verifiedStore(t, g, newTestMirror(t))
	ctx := context.Background()
	_ = store.SubmitNewPassword(ctx, "secret1", "secret1")

	if err := store.RequestReset(ctx, "a@b.com"); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected TransitionError at done, got %v", err)
	}
	store.Cancel()
	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset after cancel failed: %v", err)
	}
}

func TestConcurrentRequestResetIsDebounced(t *testing.T) {
	g := newFakeGateway()
	g.blockCalls()
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- store.RequestReset(ctx, "a@b.com") }()
	waitStarted(t, g, RemoteRequestReset)

	if s := store.Snapshot(); !s.Pending {
		t.Fatalf("expected pending session, got %+v", s)
	}

	// Second call arrives while the first is in flight.
	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("debounced call must return nil, got %v", err)
	}

	close(g.gate)
	if err := <-errs; err != nil {
		t.Fatalf("first RequestReset failed: %v", err)
	}

	if r, _, _ := g.calls(); r != 1 {
		t.Fatalf("expected exactly one gateway call, got %d", r)
	}
	if s := store.Snapshot(); s.Step != StepRequested {
		t.Fatalf("expected requested, got %+v", s)
	}
	if store.MetricsSnapshot().Counters[MetricDebouncedRequest] != 1 {
		t.Fatal("expected debounced request counted")
	}
}

func TestPendingOperationBlocksOthers(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()
	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}

	g.blockCalls()
	done := make(chan error, 1)
	go func() { done <- store.ResendCode(ctx) }()
	waitStarted(t, g, RemoteRequestReset)

	err := store.SubmitCode(ctx, "123456")
	var terr *TransitionError
	if !errors.As(err, &terr) || !terr.Pending {
		t.Fatalf("expected pending TransitionError, got %v", err)
	}

	close(g.gate)
	if err := <-done; err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	s := store.Snapshot()
	if s.Step != StepRequested || s.Pending {
		t.Fatalf("resend must leave step unchanged, got %+v", s)
	}
	if store.MetricsSnapshot().Counters[MetricCodeResent] != 1 {
		t.Fatal("expected resend counted")
	}
}

func TestResendFailureRecordsErrorKeepsStep(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()
	_ = store.RequestReset(ctx, "a@b.com")

	g.requestErr = NewRemoteError(RemoteRequestReset, 429, "too many requests", nil)
	if err := store.ResendCode(ctx); err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	s := store.Snapshot()
	if s.Step != StepRequested || s.Err == nil || s.Err.Kind != KindRemote {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestCancelDropsLateResponse(t *testing.T) {
	g := newFakeGateway()
	m := newTestMirror(t)
	store := buildTestStore(t, g, m)
	ctx := context.Background()
	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}

	g.blockCalls()
	done := make(chan error, 1)
	go func() { done <- store.SubmitCode(ctx, "123456") }()
	waitStarted(t, g, RemoteVerifyOTP)

	store.Cancel()
	cancelled := store.Snapshot()
	mustInvariants(t, cancelled)
	if cancelled.Step != StepNone || cancelled.Email != "" || cancelled.Pending || cancelled.Epoch != 1 {
		t.Fatalf("unexpected session after cancel: %+v", cancelled)
	}

	close(g.gate)
	if err := <-done; err != nil {
		t.Fatalf("stale response must be dropped silently, got %v", err)
	}

	if after := store.Snapshot(); after != cancelled {
		t.Fatalf("late response mutated session: %+v", after)
	}
	if rec, _ := m.Load(); !rec.IsZero() {
		t.Fatalf("late response wrote mirror: %+v", rec)
	}
	if store.MetricsSnapshot().Counters[MetricStaleResponseDropped] != 1 {
		t.Fatal("expected stale response counted")
	}
}

func TestCancelDuringCompletingReturnsToNone(t *testing.T) {
	g := newFakeGateway()
	m := newTestMirror(t)
	store := verifiedStore(t, g, m)
	ctx := context.Background()

	g.blockCalls()
	done := make(chan error, 1)
	go func() { done <- store.SubmitNewPassword(ctx, "secret1", "secret1") }()
	waitStarted(t, g, RemoteResetPassword)

	if s := store.Snapshot(); s.Step != StepCompleting || !s.Pending || s.Token == "" {
		t.Fatalf("expected completing with token, got %+v", s)
	}
	if got := AllowedScreen(store.Snapshot()); got != ScreenNewPassword {
		t.Fatalf("completing must stay on new password screen, got %s", got)
	}

	store.Cancel()
	close(g.gate)
	<-done

	s := store.Snapshot()
	mustInvariants(t, s)
	if s.Step != StepNone || s.Token != "" {
		t.Fatalf("expected none after cancel, got %+v", s)
	}
}

func TestStepNeverGoesBackwardsWithinEpoch(t *testing.T) {
	g := newFakeGateway()
	g.commitErr = NewAuthError(RemoteResetPassword, 401, "expired", nil)
	store := buildTestStore(t, g, newTestMirror(t))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Session
	unsubscribe := store.Subscribe(func(s Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	_ = store.RequestReset(ctx, "a@b.com")
	_ = store.SubmitCode(ctx, "123456")
	_ = store.SubmitNewPassword(ctx, "secret1", "secret1")
	store.Cancel()
	_ = store.RequestReset(ctx, "b@b.com")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("expected notifications")
	}
	for i, s := range seen {
		mustInvariants(t, s)
		if i == 0 {
			continue
		}
		prev := seen[i-1]
		if s.Epoch != prev.Epoch {
			continue
		}
		// Completing -> Verified is the commit failure revert.
		if s.Step < prev.Step && !(prev.Step == StepCompleting && s.Step == StepVerified) {
			t.Fatalf("step went backwards: %s -> %s", prev.Step, s.Step)
		}
	}
	if last := seen[len(seen)-1]; last.Step != StepRequested || last.Email != "b@b.com" || last.Epoch != 1 {
		t.Fatalf("unexpected final notification: %+v", last)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	store := buildTestStore(t, newFakeGateway(), newTestMirror(t))

	count := 0
	unsubscribe := store.Subscribe(func(Session) { count++ })
	store.Cancel()
	unsubscribe()
	unsubscribe()
	store.Cancel()

	if count != 1 {
		t.Fatalf("expected 1 notification, got %d", count)
	}
}

func TestBuildRehydratesFromMirror(t *testing.T) {
	cases := []struct {
		name      string
		rec       mirror.Record
		wantStep  Step
		wantEmpty bool
	}{
		{name: "nothing", rec: mirror.Record{}, wantStep: StepNone, wantEmpty: true},
		{name: "email only", rec: mirror.Record{Email: "a@b.com"}, wantStep: StepRequested},
		{name: "email and token", rec: mirror.Record{Email: "a@b.com", Token: "tok"}, wantStep: StepVerified},
		{name: "token without email", rec: mirror.Record{Token: "tok"}, wantStep: StepNone, wantEmpty: true},
		{name: "corrupt email", rec: mirror.Record{Email: "nope"}, wantStep: StepNone, wantEmpty: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMirror(t)
			if err := m.Save(tc.rec); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			store := buildTestStore(t, newFakeGateway(), m)
			s := store.Snapshot()
			mustInvariants(t, s)
			if s.Step != tc.wantStep {
				t.Fatalf("expected %s, got %s", tc.wantStep, s.Step)
			}

			rec, _ := m.Load()
			if tc.wantEmpty && !rec.IsZero() {
				t.Fatalf("expected mirror cleared, got %+v", rec)
			}
			if !tc.wantEmpty && rec != tc.rec {
				t.Fatalf("mirror must be unchanged, got %+v", rec)
			}
		})
	}
}

func TestRestartResumesAfterReload(t *testing.T) {
	g := newFakeGateway()
	m := newTestMirror(t)
	store := buildTestStore(t, g, m)
	ctx := context.Background()

	_ = store.RequestReset(ctx, "a@b.com")
	_ = store.SubmitCode(ctx, "123456")

	// A second store on the same mirror stands in for a reloaded page.
	reloaded := buildTestStore(t, g, m)
	s := reloaded.Snapshot()
	if s.Step != StepVerified || s.Token != "reset-token-1" || s.Email != "a@b.com" {
		t.Fatalf("expected verified session after reload, got %+v", s)
	}
	if got := AllowedScreen(s); got != ScreenNewPassword {
		t.Fatalf("expected new password screen, got %s", got)
	}

	if err := reloaded.SubmitNewPassword(ctx, "secret1", "secret1"); err != nil {
		t.Fatalf("SubmitNewPassword failed: %v", err)
	}

	restarted := store.Restart(ctx)
	if restarted.Step != StepNone || restarted.Epoch != 1 {
		t.Fatalf("expected fresh session after restart, got %+v", restarted)
	}
}

func TestMirrorFailuresAreNotSurfaced(t *testing.T) {
	g := newFakeGateway()
	store := buildTestStore(t, g, failingMirror{})
	ctx := context.Background()

	if err := store.RequestReset(ctx, "a@b.com"); err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	if err := store.SubmitCode(ctx, "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	store.Cancel()

	if s := store.Snapshot(); s.Err != nil {
		t.Fatalf("mirror failures must not reach the session, got %+v", s.Err)
	}
	// load on build, save twice, clear once
	if got := store.MetricsSnapshot().Counters[MetricMirrorFailure]; got != 4 {
		t.Fatalf("expected 4 mirror failures, got %d", got)
	}
}

func TestAuditSeparatesAuthFromRemote(t *testing.T) {
	g := newFakeGateway()
	sink := NewChannelSink(16)
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	store, err := New().WithConfig(cfg).WithGateway(g).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx := context.Background()

	_ = store.RequestReset(ctx, "alice@example.com")
	g.verifyErr = NewAuthError(RemoteVerifyOTP, 401, "invalid code", nil)
	_ = store.SubmitCode(ctx, "111111")
	g.verifyErr = NewRemoteError(RemoteVerifyOTP, 0, "timeout", context.DeadlineExceeded)
	_ = store.SubmitCode(ctx, "222222")
	store.Close()

	var kinds []string
	for len(kinds) < 3 {
		select {
		case e := <-sink.Events():
			if e.Subject != "a***@example.com" {
				t.Fatalf("expected masked subject, got %q", e.Subject)
			}
			kinds = append(kinds, e.EventType+"/"+e.ErrorKind)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	want := []string{AuditRequest + "/", AuditVerify + "/auth", AuditVerify + "/remote"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q", i, want[i], kinds[i])
		}
	}
}

func TestZeroValueStoreIsNotReady(t *testing.T) {
	var store SessionStore
	if err := store.RequestReset(context.Background(), "a@b.com"); !errors.Is(err, ErrStoreNotReady) {
		t.Fatalf("expected ErrStoreNotReady, got %v", err)
	}
	var nilStore *SessionStore
	if err := nilStore.SubmitCode(context.Background(), "123456"); !errors.Is(err, ErrStoreNotReady) {
		t.Fatalf("expected ErrStoreNotReady, got %v", err)
	}
	nilStore.Cancel()

	store.Cancel()
	if s := store.Snapshot(); s.Step != StepNone || s.Epoch != 1 {
		t.Fatalf("unexpected session after zero-value Cancel: %+v", s)
	}
	if s := store.Restart(context.Background()); s.Step != StepNone || s.Epoch != 2 {
		t.Fatalf("unexpected session after zero-value Restart: %+v", s)
	}
}

// slowMirror blocks Save until release is closed.
type slowMirror struct {
	*mirror.Mirror
	saving  chan struct{}
	release chan struct{}
}

func (m *slowMirror) Save(rec mirror.Record) error {
	m.saving <- struct{}{}
	<-m.release
	return m.Mirror.Save(rec)
}

func TestSlowMirrorDoesNotBlockSnapshot(t *testing.T) {
	m := &slowMirror{
		Mirror:  newTestMirror(t),
		saving:  make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := buildTestStore(t, newFakeGateway(), m)

	done := make(chan error, 1)
	go func() {
		done <- store.RequestReset(context.Background(), "alice@example.com")
	}()
	select {
	case <-m.saving:
	case <-time.After(2 * time.Second):
		t.Fatalf("mirror save never started")
	}

	snapped := make(chan Session, 1)
	go func() { snapped <- store.Snapshot() }()
	select {
	case s := <-snapped:
		if s.Step != StepRequested || s.Pending {
			t.Fatalf("expected committed requested session, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("Snapshot blocked behind mirror I/O")
	}

	close(m.release)
	if err := <-done; err != nil {
		t.Fatalf("RequestReset failed: %v", err)
	}
	rec, err := m.Load()
	if err != nil || rec.Email != "alice@example.com" {
		t.Fatalf("expected email mirrored once RequestReset returns, got %+v err=%v", rec, err)
	}
}

func TestMirrorWritesKeepCommitOrder(t *testing.T) {
	g := newFakeGateway()
	m := newTestMirror(t)
	store := buildTestStore(t, g, m)
	ctx := context.Background()

	_ = store.RequestReset(ctx, "alice@example.com")
	_ = store.SubmitCode(ctx, "123456")
	store.Cancel()
	_ = store.RequestReset(ctx, "bob@example.com")

	rec, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec != (mirror.Record{Email: "bob@example.com"}) {
		t.Fatalf("expected only the new email mirrored, got %+v", rec)
	}
}

func TestBuildRequiresGateway(t *testing.T) {
	if _, err := New().Build(); !errors.Is(err, ErrGatewayRequired) {
		t.Fatalf("expected ErrGatewayRequired, got %v", err)
	}

	b := New().WithGateway(newFakeGateway())
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}
