package goRecover

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/mirror"
)

// SessionStore owns one recovery session and is its only mutator.
//
// Operations other than RequestReset check the current step before validating
// input or calling the gateway. Remote failures are recorded on the session
// and never returned; validation and transition failures are returned to the
// caller.
type SessionStore struct {
	cfg     Config
	gateway Gateway
	mirror  Mirror
	metrics *Metrics
	audit   *audit.Dispatcher

	notifyMu sync.Mutex

	// mirrorMu serializes mirror I/O; it is taken before mu, never after.
	mirrorMu sync.Mutex

	mu        sync.Mutex
	session   Session
	pendingOp Op
	version   uint64
	delivered uint64
	listeners map[uint64]func(Session)
	nextID    uint64
	mirrorOps []mirrorOp
}

// mirrorOp is a mirror write queued under mu and applied after it is
// released, in the order it was queued.
type mirrorOp struct {
	clear bool
	rec   mirror.Record
}

// Snapshot returns a copy of the current session.
func (s *SessionStore) Snapshot() Session {
	if s == nil {
		return Session{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.clone()
}

// Subscribe registers fn to receive a snapshot after every committed change,
// including late gateway results and Cancel. Snapshots are delivered in
// commit order; a listener may miss an intermediate state but never observes
// an older state after a newer one. fn runs on the goroutine that made the
// change and must not call SessionStore operations synchronously.
//
// The returned function removes the listener.
func (s *SessionStore) Subscribe(fn func(Session)) func() {
	if s == nil || fn == nil {
		return func() {}
	}

	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[uint64]func(Session))
	}
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// RequestReset starts a recovery for email.
//
// Invalid emails fail with *ValidationError before any remote call. A call
// made while another RequestReset is in flight is debounced and returns nil
// without contacting the gateway. Outside StepNone, or while a different
// operation is pending, it fails with *TransitionError.
func (s *SessionStore) RequestReset(ctx context.Context, email string) error {
	if s == nil || s.gateway == nil {
		return ErrStoreNotReady
	}
	ctx = orBackground(ctx)
	email = strings.TrimSpace(email)

	if verr := ValidateEmail(email); verr != nil {
		s.mu.Lock()
		legal := s.session.Step == StepNone && !s.session.Pending
		if legal {
			s.session.Err = errorInfoFrom(verr)
			s.version++
		}
		s.mu.Unlock()
		s.metrics.Inc(MetricValidationRejected)
		if legal {
			s.notify()
		}
		return verr
	}

	s.mu.Lock()
	if s.session.Pending && s.pendingOp == OpRequestReset {
		s.mu.Unlock()
		s.metrics.Inc(MetricDebouncedRequest)
		return nil
	}
	if err := s.checkTransitionLocked(OpRequestReset, StepNone); err != nil {
		s.mu.Unlock()
		return err
	}
	epoch := s.beginLocked(OpRequestReset)
	s.mu.Unlock()
	s.notify()

	err := s.callGateway(func() error {
		return s.gateway.RequestReset(ctx, email)
	})

	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.dropStale(ctx, email, epoch)
		return nil
	}
	s.endLocked()
	if err != nil {
		s.session.Err = errorInfoFrom(err)
		s.metrics.Inc(MetricRequestFailure)
	} else {
		s.session.Email = email
		s.session.Step = StepRequested
		s.queueMirrorLocked(mirrorOp{rec: mirror.Record{Email: email}})
		s.metrics.Inc(MetricResetRequested)
	}
	step := s.session.Step
	s.version++
	s.mu.Unlock()

	s.flushMirror()
	s.notify()
	s.emitAudit(ctx, AuditRequest, email, epoch, step, err)
	return nil
}

// SubmitCode exchanges a one-time passcode for a reset token.
//
// Legal only at StepRequested with nothing pending. A code that is not
// exactly Config.CodeDigits digits fails with *ValidationError and no remote
// call. A rejected code leaves the session at StepRequested with Err set.
func (s *SessionStore) SubmitCode(ctx context.Context, code string) error {
	if s == nil || s.gateway == nil {
		return ErrStoreNotReady
	}
	ctx = orBackground(ctx)
	code = strings.TrimSpace(code)

	s.mu.Lock()
	if err := s.checkTransitionLocked(OpSubmitCode, StepRequested); err != nil {
		s.mu.Unlock()
		return err
	}
	if verr := ValidateCode(code, s.cfg.CodeDigits); verr != nil {
		s.session.Err = errorInfoFrom(verr)
		s.version++
		s.mu.Unlock()
		s.metrics.Inc(MetricValidationRejected)
		s.notify()
		return verr
	}
	email := s.session.Email
	epoch := s.beginLocked(OpSubmitCode)
	s.mu.Unlock()
	s.notify()

	var token string
	err := s.callGateway(func() error {
		var callErr error
		token, callErr = s.gateway.VerifyCode(ctx, email, code)
		return callErr
	})
	if err == nil && token == "" {
		err = NewRemoteError(RemoteVerifyOTP, 0, "malformed response from identity service", nil)
	}

	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.dropStale(ctx, email, epoch)
		return nil
	}
	s.endLocked()
	if err != nil {
		info := errorInfoFrom(err)
		s.session.Err = info
		if info.Kind == KindAuth {
			s.metrics.Inc(MetricCodeRejected)
		} else {
			s.metrics.Inc(MetricVerifyRemoteFailure)
		}
	} else {
		s.session.Token = token
		s.session.Step = StepVerified
		s.queueMirrorLocked(mirrorOp{rec: mirror.Record{Email: email, Token: token}})
		s.metrics.Inc(MetricCodeVerified)
	}
	step := s.session.Step
	s.version++
	s.mu.Unlock()

	s.flushMirror()
	s.notify()
	s.emitAudit(ctx, AuditVerify, email, epoch, step, err)
	return nil
}

// SubmitNewPassword commits a new password using the session's reset token.
//
// Legal only at StepVerified with nothing pending. The session moves to
// StepCompleting for the duration of the call. On success it reaches StepDone
// with email, token and mirror cleared; on any failure it reverts to
// StepVerified and keeps the token.
func (s *SessionStore) SubmitNewPassword(ctx context.Context, password, confirm string) error {
	if s == nil || s.gateway == nil {
		return ErrStoreNotReady
	}
	ctx = orBackground(ctx)

	s.mu.Lock()
	if err := s.checkTransitionLocked(OpSubmitNewPassword, StepVerified); err != nil {
		s.mu.Unlock()
		return err
	}
	if verr := ValidateNewPassword(password, confirm, s.cfg.MinPasswordLength); verr != nil {
		s.session.Err = errorInfoFrom(verr)
		s.version++
		s.mu.Unlock()
		s.metrics.Inc(MetricValidationRejected)
		s.notify()
		return verr
	}
	email, token := s.session.Email, s.session.Token
	s.session.Step = StepCompleting
	epoch := s.beginLocked(OpSubmitNewPassword)
	s.mu.Unlock()
	s.notify()

	err := s.callGateway(func() error {
		return s.gateway.CommitPassword(ctx, email, password, token)
	})

	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.dropStale(ctx, email, epoch)
		return nil
	}
	s.endLocked()
	if err != nil {
		info := errorInfoFrom(err)
		s.session.Err = info
		s.session.Step = StepVerified
		switch info.Kind {
		case KindValidation:
			s.metrics.Inc(MetricCommitPolicyRejected)
		case KindAuth:
			s.metrics.Inc(MetricCommitAuthFailure)
		default:
			s.metrics.Inc(MetricCommitRemoteFailure)
		}
	} else {
		s.session.Step = StepDone
		s.session.Email = ""
		s.session.Token = ""
		s.queueMirrorLocked(mirrorOp{clear: true})
		s.metrics.Inc(MetricPasswordCommitted)
	}
	step := s.session.Step
	s.version++
	s.mu.Unlock()

	s.flushMirror()
	s.notify()
	s.emitAudit(ctx, AuditCommit, email, epoch, step, err)
	return nil
}

// ResendCode asks the identity service to send a fresh code to the session
// email. The step is unchanged whether or not the call succeeds.
func (s *SessionStore) ResendCode(ctx context.Context) error {
	if s == nil || s.gateway == nil {
		return ErrStoreNotReady
	}
	ctx = orBackground(ctx)

	s.mu.Lock()
	if err := s.checkTransitionLocked(OpResendCode, StepRequested); err != nil {
		s.mu.Unlock()
		return err
	}
	email := s.session.Email
	epoch := s.beginLocked(OpResendCode)
	s.mu.Unlock()
	s.notify()

	err := s.callGateway(func() error {
		return s.gateway.RequestReset(ctx, email)
	})

	s.mu.Lock()
	if s.staleLocked(epoch) {
		s.mu.Unlock()
		s.dropStale(ctx, email, epoch)
		return nil
	}
	s.endLocked()
	if err != nil {
		s.session.Err = errorInfoFrom(err)
		s.metrics.Inc(MetricRequestFailure)
	} else {
		s.metrics.Inc(MetricCodeResent)
	}
	step := s.session.Step
	s.version++
	s.mu.Unlock()

	s.notify()
	s.emitAudit(ctx, AuditResend, email, epoch, step, err)
	return nil
}

// Cancel abandons the recovery from any step, including while a call is in
// flight. The session returns to its initial state under a new epoch, so a
// late gateway response is discarded, and the mirror is cleared.
func (s *SessionStore) Cancel() {
	if s == nil {
		return
	}

	s.mu.Lock()
	email := s.session.Email
	epoch := s.session.Epoch + 1
	s.session = Session{Epoch: epoch}
	s.pendingOp = ""
	s.queueMirrorLocked(mirrorOp{clear: true})
	s.version++
	s.mu.Unlock()

	s.flushMirror()
	s.metrics.Inc(MetricCancelled)
	s.notify()
	s.emitAudit(context.Background(), AuditCancel, email, epoch, StepNone, nil)
}

// Restart discards the in-memory session and rebuilds it from the mirror, as
// a reloaded process would. Any in-flight response is discarded.
func (s *SessionStore) Restart(ctx context.Context) Session {
	if s == nil {
		return Session{}
	}
	ctx = orBackground(ctx)

	snap := s.reload(true)
	s.notify()
	s.emitAudit(ctx, AuditRehydrate, snap.Email, snap.Epoch, snap.Step, nil)
	return snap
}

// MetricsSnapshot returns the store's counters.
func (s *SessionStore) MetricsSnapshot() MetricsSnapshot {
	if s == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return s.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (s *SessionStore) AuditDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.audit.Dropped()
}

// Close flushes and stops the audit dispatcher. The session itself stays
// usable.
func (s *SessionStore) Close() {
	if s == nil {
		return
	}
	s.audit.Close()
}

func (s *SessionStore) checkTransitionLocked(op Op, want Step) error {
	if s.session.Step != want || s.session.Pending {
		s.metrics.Inc(MetricTransitionRejected)
		return &TransitionError{Op: op, Step: s.session.Step, Pending: s.session.Pending}
	}
	return nil
}

func (s *SessionStore) beginLocked(op Op) uint64 {
	s.session.Pending = true
	s.session.Err = nil
	s.pendingOp = op
	s.version++
	return s.session.Epoch
}

func (s *SessionStore) endLocked() {
	s.session.Pending = false
	s.pendingOp = ""
}

func (s *SessionStore) staleLocked(epoch uint64) bool {
	return s.session.Epoch != epoch
}

// notify publishes the latest session to every listener. Deliveries are
// serialized and a version already delivered is skipped, so listeners never
// go backwards.
func (s *SessionStore) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.version <= s.delivered || len(s.listeners) == 0 {
		s.delivered = s.version
		s.mu.Unlock()
		return
	}
	s.delivered = s.version
	snap := s.session.clone()
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *SessionStore) dropStale(ctx context.Context, email string, epoch uint64) {
	s.metrics.Inc(MetricStaleResponseDropped)
	s.emitAudit(ctx, AuditStaleResponse, email, epoch, StepNone, errStaleResponse)
}

func (s *SessionStore) callGateway(call func() error) error {
	start := time.Now()
	err := call()
	s.metrics.Observe(MetricGatewayLatency, time.Since(start))
	return err
}

func (s *SessionStore) queueMirrorLocked(op mirrorOp) {
	if s.mirror == nil {
		return
	}
	s.mirrorOps = append(s.mirrorOps, op)
}

// flushMirror applies every queued mirror write. Callers must not hold mu.
func (s *SessionStore) flushMirror() {
	if s.mirror == nil {
		return
	}
	s.mirrorMu.Lock()
	s.applyMirrorOps()
	s.mirrorMu.Unlock()
}

// applyMirrorOps drains the queue until it stays empty. mirrorMu must be
// held.
func (s *SessionStore) applyMirrorOps() {
	for {
		s.mu.Lock()
		ops := s.mirrorOps
		s.mirrorOps = nil
		s.mu.Unlock()
		if len(ops) == 0 {
			return
		}
		for _, op := range ops {
			if op.clear {
				if err := s.mirror.Clear(); err != nil {
					s.metrics.Inc(MetricMirrorFailure)
					log.Printf("goRecover: mirror clear failed: %v", err)
				}
				continue
			}
			if err := s.mirror.Save(op.rec); err != nil {
				s.metrics.Inc(MetricMirrorFailure)
				log.Printf("goRecover: mirror save failed: %v", err)
			}
		}
	}
}

// reload replaces the session with the state implied by the mirror: a token
// means verified, an email alone means requested. Records that cannot
// describe a valid session are cleared. With advance set the epoch moves
// forward so in-flight responses are discarded.
func (s *SessionStore) reload(advance bool) Session {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	var (
		rec     mirror.Record
		loadErr error
	)
	for {
		if s.mirror != nil {
			s.applyMirrorOps()
			rec, loadErr = s.mirror.Load()
		}
		s.mu.Lock()
		if len(s.mirrorOps) == 0 {
			break
		}
		// A write committed while loading; read again so it is not lost.
		s.mu.Unlock()
	}

	epoch := s.session.Epoch
	if advance {
		epoch++
	}
	s.pendingOp = ""
	s.session = Session{Epoch: epoch}
	switch next, ok := sessionFromRecord(rec); {
	case loadErr != nil:
		s.metrics.Inc(MetricMirrorFailure)
		log.Printf("goRecover: mirror load failed: %v", loadErr)
	case !ok:
		log.Printf("goRecover: discarding inconsistent mirror record")
		s.queueMirrorLocked(mirrorOp{clear: true})
	default:
		next.Epoch = epoch
		s.session = next
		if next.Step != StepNone {
			s.metrics.Inc(MetricRehydrated)
		}
	}
	s.version++
	snap := s.session.clone()
	s.mu.Unlock()

	if s.mirror != nil {
		s.applyMirrorOps()
	}
	return snap
}

func sessionFromRecord(rec mirror.Record) (Session, bool) {
	switch {
	case rec.IsZero():
		return Session{}, true
	case ValidateEmail(rec.Email) != nil:
		return Session{}, false
	case rec.Token != "":
		return Session{Email: rec.Email, Token: rec.Token, Step: StepVerified}, true
	default:
		return Session{Email: rec.Email, Step: StepRequested}, true
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
