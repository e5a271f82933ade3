package identity

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goRecover/internal"
	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/internal/flows"
	"github.com/MrEthical07/goRecover/internal/limiters"
	"github.com/MrEthical07/goRecover/internal/security"
	"github.com/MrEthical07/goRecover/internal/stores"
	"github.com/MrEthical07/goRecover/jwt"
	"github.com/MrEthical07/goRecover/password"
	"github.com/redis/go-redis/v9"
)

type (
	// AuditEvent is an identity service audit record.
	AuditEvent = audit.Event
	// AuditSink receives identity service audit records.
	AuditSink = audit.Sink
)

// Audit event types emitted by the Service.
const (
	AuditRequest     = "identity.request_reset"
	AuditVerify      = "identity.verify_otp"
	AuditCommit      = "identity.reset_password"
	AuditReplay      = "identity.token_replay"
	AuditRateLimited = "identity.rate_limited"
)

const (
	statRequestAccepted = iota
	statRequestUnknown
	statRequestLimited
	statVerifySuccess
	statVerifyFailure
	statVerifyLimited
	statCommitSuccess
	statCommitFailure
	statCommitReplay
	statCount
)

// Stats is a point-in-time copy of the service counters.
type Stats struct {
	RequestAccepted uint64
	RequestUnknown  uint64
	RequestLimited  uint64
	VerifySuccess   uint64
	VerifyFailure   uint64
	VerifyLimited   uint64
	CommitSuccess   uint64
	CommitFailure   uint64
	CommitReplay    uint64
}

// Backends are the external resources a Service runs on.
type Backends struct {
	Redis     redis.UniversalClient
	Directory Directory
	Notifier  Notifier
	AuditSink AuditSink
}

// Service implements the three recovery endpoints. It is safe for concurrent
// use.
type Service struct {
	config   Config
	dir      Directory
	notifier Notifier
	codes    *stores.ResetCodeStore
	ledger   *stores.TokenLedger
	limiter  *limiters.RecoveryLimiter
	tokens   *jwt.Manager
	hasher   *password.Argon2
	audit    *audit.Dispatcher
	flows    flows.Service
	counters [statCount]atomic.Uint64
}

// NewService validates cfg and wires the backends.
func NewService(cfg Config, b Backends) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.Redis == nil {
		return nil, errors.New("identity: redis client is required")
	}
	if b.Directory == nil {
		return nil, errors.New("identity: directory is required")
	}
	if b.Notifier == nil {
		b.Notifier = LogNotifier{}
	}

	tokens, err := jwt.NewManager(cfg.Token)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	limits := cfg.Limits
	if limits.Prefix == "" {
		limits.Prefix = cfg.RedisPrefix + ":rl"
	}

	s := &Service{
		config:   cfg,
		dir:      b.Directory,
		notifier: b.Notifier,
		codes:    stores.NewResetCodeStore(b.Redis, cfg.RedisPrefix+":code"),
		ledger:   stores.NewTokenLedger(b.Redis, cfg.RedisPrefix+":jti"),
		limiter:  limiters.NewRecoveryLimiter(b.Redis, limits),
		tokens:   tokens,
		hasher:   hasher,
		audit:    audit.NewDispatcher(cfg.Audit, b.AuditSink),
	}
	s.flows = flows.New(flows.Deps{Recovery: s.recoveryDeps()})
	return s, nil
}

// RequestReset issues and delivers a passcode for email. Unknown emails are
// accepted without a passcode.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	if s == nil || !s.flows.Initialized() {
		return ErrNotReady
	}
	return s.flows.RequestReset(ctx, email)
}

// VerifyCode exchanges a valid passcode for a signed reset token.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (string, error) {
	if s == nil || !s.flows.Initialized() {
		return "", ErrNotReady
	}
	return s.flows.VerifyCode(ctx, email, code)
}

// CommitPassword sets the password of the account named by token.
func (s *Service) CommitPassword(ctx context.Context, email, newPassword, token string) error {
	if s == nil || !s.flows.Initialized() {
		return ErrNotReady
	}
	return s.flows.CommitPassword(ctx, email, newPassword, token)
}

// HashPassword hashes a password under the service policy. Used to seed
// directories.
func (s *Service) HashPassword(pw string) (string, error) {
	if s == nil || s.hasher == nil {
		return "", ErrNotReady
	}
	return s.hasher.Hash(pw)
}

// CheckPassword reports whether pw matches the stored hash for email. A
// match against a hash made under older cost parameters upgrades the stored
// hash; a failed upgrade is logged and does not affect the result.
func (s *Service) CheckPassword(ctx context.Context, email, pw string) (bool, error) {
	if s == nil || s.hasher == nil {
		return false, ErrNotReady
	}
	acc, err := s.dir.Lookup(ctx, email)
	if err != nil {
		return false, err
	}
	ok, err := s.hasher.Verify(pw, acc.PasswordHash)
	if err != nil || !ok || !s.hasher.NeedsRehash(acc.PasswordHash) {
		return ok, err
	}
	if hash, err := s.hasher.Hash(pw); err != nil {
		log.Printf("identity: rehash %s: %v", audit.MaskEmail(email), err)
	} else if err := s.dir.SetPasswordHash(ctx, acc.ID, hash); err != nil {
		log.Printf("identity: store rehash %s: %v", audit.MaskEmail(email), err)
	}
	return true, nil
}

// Stats returns a copy of the service counters.
func (s *Service) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		RequestAccepted: s.counters[statRequestAccepted].Load(),
		RequestUnknown:  s.counters[statRequestUnknown].Load(),
		RequestLimited:  s.counters[statRequestLimited].Load(),
		VerifySuccess:   s.counters[statVerifySuccess].Load(),
		VerifyFailure:   s.counters[statVerifyFailure].Load(),
		VerifyLimited:   s.counters[statVerifyLimited].Load(),
		CommitSuccess:   s.counters[statCommitSuccess].Load(),
		CommitFailure:   s.counters[statCommitFailure].Load(),
		CommitReplay:    s.counters[statCommitReplay].Load(),
	}
}

// SecurityReport summarizes the configured protections.
func (s *Service) SecurityReport() security.Report {
	if s == nil {
		return security.Report{}
	}
	cfg := s.config
	return security.BuildReport(security.ReportInput{
		ProductionMode:   cfg.ProductionMode,
		SigningAlgorithm: string(cfg.Token.SigningMethod),
		TokenTTL:         cfg.Token.ResetTTL,
		CodeTTL:          cfg.CodeTTL,
		CodeDigits:       cfg.CodeDigits,
		MaxCodeAttempts:  cfg.MaxCodeAttempts,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		},
		MaxRequestsPerEmail: cfg.Limits.MaxRequestsPerEmail,
		MaxRequestsPerIP:    cfg.Limits.MaxRequestsPerIP,
		MaxVerifiesPerEmail: cfg.Limits.MaxVerifiesPerEmail,
		MaxVerifiesPerIP:    cfg.Limits.MaxVerifiesPerIP,
		LimiterWindow:       cfg.Limits.Window,
		EnumerationDelay:    cfg.EnumerationDelay,
	})
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (s *Service) AuditDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.audit.Dropped()
}

// Close flushes pending audit events.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.audit.Close()
}

func (s *Service) recoveryDeps() flows.RecoveryDeps {
	return flows.RecoveryDeps{
		CodeDigits:  s.config.CodeDigits,
		CodeTTL:     s.config.CodeTTL,
		MaxAttempts: s.config.MaxCodeAttempts,

		ClientIPFromContext: clientIPFromContext,
		Now:                 time.Now,

		CheckRequestLimiter: s.limiter.CheckRequest,
		CheckVerifyLimiter:  s.limiter.CheckVerify,
		CheckCommitLimiter:  s.limiter.CheckCommit,
		MapLimiterError:     mapLimiterError,
		MapStoreError:       mapStoreError,

		LookupAccount: func(ctx context.Context, email string) (flows.Account, error) {
			acc, err := s.dir.Lookup(ctx, email)
			if err != nil {
				return flows.Account{}, err
			}
			return flows.Account{ID: acc.ID, Email: acc.Email}, nil
		},
		IsAccountNotFound: func(err error) bool { return errors.Is(err, ErrUnknownAccount) },

		GenerateCode: internal.NewOTP,
		HashCode:     stores.HashCode,
		SaveCode:     s.codes.Save,
		ConsumeCode: func(ctx context.Context, email string, hash [32]byte, maxAttempts int) error {
			_, err := s.codes.Consume(ctx, email, hash, maxAttempts)
			return err
		},
		DeliverCode:           s.notifier.Deliver,
		SleepEnumerationDelay: s.sleepEnumerationDelay,

		IssueToken: func(email string) (string, error) {
			token, _, err := s.tokens.IssueReset(email)
			return token, err
		},
		ParseToken: func(token string) (flows.TokenClaims, error) {
			claims, err := s.tokens.ParseReset(token)
			if err != nil {
				return flows.TokenClaims{}, err
			}
			return flows.TokenClaims{
				Subject:   claims.Subject,
				ID:        claims.ID,
				ExpiresAt: claims.ExpiresAt.Time,
			}, nil
		},
		MarkTokenUsed: s.ledger.MarkUsed,
		ReleaseToken: func(ctx context.Context, jti string) error {
			if err := s.ledger.Release(ctx, jti); err != nil {
				log.Printf("identity: release token id failed: %v", err)
				return err
			}
			return nil
		},

		CheckPolicy:        s.hasher.CheckPolicy,
		HashPassword:       s.hasher.Hash,
		UpdatePasswordHash: s.dir.SetPasswordHash,

		MetricInc: func(id int) { s.counters[id].Add(1) },
		EmitAudit: s.emitAudit,

		Metrics: flows.RecoveryMetrics{
			RequestAccepted: statRequestAccepted,
			RequestUnknown:  statRequestUnknown,
			RequestLimited:  statRequestLimited,
			VerifySuccess:   statVerifySuccess,
			VerifyFailure:   statVerifyFailure,
			VerifyLimited:   statVerifyLimited,
			CommitSuccess:   statCommitSuccess,
			CommitFailure:   statCommitFailure,
			CommitReplay:    statCommitReplay,
		},
		Events: flows.RecoveryEvents{
			Request: AuditRequest,
			Verify:  AuditVerify,
			Commit:  AuditCommit,
			Replay:  AuditReplay,
			Limited: AuditRateLimited,
		},
		Errors: flows.RecoveryErrors{
			NotReady:     ErrNotReady,
			InvalidInput: ErrInvalidInput,
			RateLimited:  ErrRateLimited,
			Unavailable:  ErrUnavailable,
			InvalidCode:  ErrInvalidCode,
			TokenInvalid: ErrTokenInvalid,
			Policy:       ErrPolicy,
		},
	}
}

func (s *Service) sleepEnumerationDelay(ctx context.Context) error {
	d := internal.JitterDelay(s.config.EnumerationDelay, s.config.EnumerationJitter)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) emitAudit(ctx context.Context, event string, success bool, email string, err error, metadata func() map[string]string) {
	if s.audit == nil {
		return
	}
	ev := audit.Event{
		EventType: event,
		Subject:   audit.MaskEmail(email),
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorKind = errorKind(err)
	}
	if metadata != nil {
		ev.Metadata = metadata()
	}
	s.audit.Emit(ctx, ev)
}

func mapLimiterError(err error) error {
	if errors.Is(err, limiters.ErrRateLimited) {
		return ErrRateLimited
	}
	return ErrUnavailable
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrCodeNotFound),
		errors.Is(err, stores.ErrCodeMismatch),
		errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return ErrInvalidCode
	case errors.Is(err, stores.ErrTokenReplayed):
		return ErrTokenInvalid
	default:
		return ErrUnavailable
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCode), errors.Is(err, stores.ErrCodeMismatch):
		return "invalid_code"
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, jwt.ErrTokenInvalid), errors.Is(err, jwt.ErrTokenExpired):
		return "token_invalid"
	case errors.Is(err, ErrPolicy), errors.Is(err, password.ErrPolicy):
		return "policy"
	case errors.Is(err, ErrInvalidInput):
		return "input"
	case errors.Is(err, ErrUnknownAccount):
		return "unknown_account"
	default:
		return "unavailable"
	}
}
