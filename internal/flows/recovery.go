package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Account is the directory view a recovery flow needs.
type Account struct {
	ID    string
	Email string
}

// TokenClaims is the verified content of a reset token.
type TokenClaims struct {
	Subject   string
	ID        string
	ExpiresAt time.Time
}

type RecoveryMetrics struct {
	RequestAccepted int
	RequestUnknown  int
	RequestLimited  int
	VerifySuccess   int
	VerifyFailure   int
	VerifyLimited   int
	CommitSuccess   int
	CommitFailure   int
	CommitReplay    int
}

type RecoveryEvents struct {
	Request string
	Verify  string
	Commit  string
	Replay  string
	Limited string
}

type RecoveryErrors struct {
	NotReady     error
	InvalidInput error
	RateLimited  error
	Unavailable  error
	InvalidCode  error
	TokenInvalid error
	Policy       error
}

// RecoveryDeps wires the identity service resources into the recovery flows.
// Closures that may be nil are defaulted by normalizeRecoveryDeps.
type RecoveryDeps struct {
	CodeDigits  int
	CodeTTL     time.Duration
	MaxAttempts int

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	CheckRequestLimiter func(context.Context, string, string) error
	CheckVerifyLimiter  func(context.Context, string, string) error
	CheckCommitLimiter  func(context.Context, string) error
	MapLimiterError     func(error) error
	MapStoreError       func(error) error

	LookupAccount     func(context.Context, string) (Account, error)
	IsAccountNotFound func(error) bool

	GenerateCode          func(int) (string, error)
	HashCode              func(string) [32]byte
	SaveCode              func(context.Context, string, [32]byte, time.Duration) error
	ConsumeCode           func(context.Context, string, [32]byte, int) error
	DeliverCode           func(context.Context, string, string) error
	SleepEnumerationDelay func(context.Context) error

	IssueToken    func(string) (string, error)
	ParseToken    func(string) (TokenClaims, error)
	MarkTokenUsed func(context.Context, string, time.Duration) error
	ReleaseToken  func(context.Context, string) error

	CheckPolicy        func(string) error
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(context.Context, string, string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, email string, err error, metadata func() map[string]string)

	Metrics RecoveryMetrics
	Events  RecoveryEvents
	Errors  RecoveryErrors
}

// RunRequestReset issues a fresh code for email and hands it to the notifier.
// Unknown emails are accepted after an enumeration delay and get no code.
func RunRequestReset(ctx context.Context, email string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)

	if deps.LookupAccount == nil || deps.GenerateCode == nil || deps.SaveCode == nil || deps.DeliverCode == nil {
		return deps.Errors.NotReady
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		deps.EmitAudit(ctx, deps.Events.Request, false, email, deps.Errors.InvalidInput, reason("invalid_email"))
		return deps.Errors.InvalidInput
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckRequestLimiter(ctx, email, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		if errors.Is(mapped, deps.Errors.RateLimited) {
			deps.MetricInc(deps.Metrics.RequestLimited)
			deps.EmitAudit(ctx, deps.Events.Limited, false, email, mapped, reason("request"))
		}
		deps.EmitAudit(ctx, deps.Events.Request, false, email, mapped, nil)
		return mapped
	}

	account, err := deps.LookupAccount(ctx, email)
	if err != nil {
		if !deps.IsAccountNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Request, false, email, err, reason("directory_failed"))
			return deps.Errors.Unavailable
		}
		if err := deps.SleepEnumerationDelay(ctx); err != nil {
			return deps.Errors.Unavailable
		}
		deps.MetricInc(deps.Metrics.RequestUnknown)
		deps.EmitAudit(ctx, deps.Events.Request, true, email, nil, func() map[string]string {
			return map[string]string{"enumeration_safe": "true"}
		})
		return nil
	}

	code, err := deps.GenerateCode(deps.CodeDigits)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, email, err, reason("code_generation_failed"))
		return deps.Errors.Unavailable
	}
	if err := deps.SaveCode(ctx, account.Email, deps.HashCode(code), deps.CodeTTL); err != nil {
		mapped := deps.MapStoreError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, email, mapped, reason("save_failed"))
		return mapped
	}
	if err := deps.DeliverCode(ctx, account.Email, code); err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, email, err, reason("delivery_failed"))
		return deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.RequestAccepted)
	deps.EmitAudit(ctx, deps.Events.Request, true, email, nil, nil)
	return nil
}

// RunVerifyCode consumes the live code for email and returns a reset token.
func RunVerifyCode(ctx context.Context, email, code string, deps RecoveryDeps) (string, error) {
	normalizeRecoveryDeps(&deps)

	if deps.ConsumeCode == nil || deps.IssueToken == nil || deps.LookupAccount == nil {
		return "", deps.Errors.NotReady
	}
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || !digitsOnly(code, deps.CodeDigits) {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, email, deps.Errors.InvalidCode, reason("malformed_code"))
		return "", deps.Errors.InvalidCode
	}

	if err := deps.CheckVerifyLimiter(ctx, email, deps.ClientIPFromContext(ctx)); err != nil {
		mapped := deps.MapLimiterError(err)
		if errors.Is(mapped, deps.Errors.RateLimited) {
			deps.MetricInc(deps.Metrics.VerifyLimited)
			deps.EmitAudit(ctx, deps.Events.Limited, false, email, mapped, reason("verify"))
		}
		deps.EmitAudit(ctx, deps.Events.Verify, false, email, mapped, nil)
		return "", mapped
	}

	if err := deps.ConsumeCode(ctx, email, deps.HashCode(code), deps.MaxAttempts); err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, email, mapped, reason("consume_failed"))
		return "", mapped
	}

	if _, err := deps.LookupAccount(ctx, email); err != nil {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		if deps.IsAccountNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Verify, false, email, err, reason("account_gone"))
			return "", deps.Errors.InvalidCode
		}
		deps.EmitAudit(ctx, deps.Events.Verify, false, email, err, reason("directory_failed"))
		return "", deps.Errors.Unavailable
	}

	token, err := deps.IssueToken(email)
	if err != nil {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, email, err, reason("issue_failed"))
		return "", deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.Verify, true, email, nil, nil)
	return token, nil
}

// RunCommitPassword replaces the password of the account named by the reset
// token. A token is accepted once; it is released again when the commit
// fails after it was marked.
func RunCommitPassword(ctx context.Context, email, newPassword, token string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)

	if deps.ParseToken == nil || deps.MarkTokenUsed == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil || deps.LookupAccount == nil {
		return deps.Errors.NotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, deps.Errors.InvalidInput, reason("invalid_email"))
		return deps.Errors.InvalidInput
	}
	if token == "" {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, deps.Errors.TokenInvalid, reason("empty_token"))
		return deps.Errors.TokenInvalid
	}

	if err := deps.CheckCommitLimiter(ctx, deps.ClientIPFromContext(ctx)); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, mapped, reason("limiter"))
		return mapped
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, err, reason("token_rejected"))
		return deps.Errors.TokenInvalid
	}
	if normalizeEmail(claims.Subject) != email {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, deps.Errors.TokenInvalid, reason("subject_mismatch"))
		return deps.Errors.TokenInvalid
	}

	if err := deps.CheckPolicy(newPassword); err != nil {
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, err, reason("policy"))
		return errors.Join(deps.Errors.Policy, err)
	}

	if err := deps.MarkTokenUsed(ctx, claims.ID, claims.ExpiresAt.Sub(deps.Now())); err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.CommitFailure)
		if errors.Is(mapped, deps.Errors.TokenInvalid) {
			deps.MetricInc(deps.Metrics.CommitReplay)
			deps.EmitAudit(ctx, deps.Events.Replay, false, email, mapped, func() map[string]string {
				return map[string]string{"jti": claims.ID}
			})
		} else {
			deps.EmitAudit(ctx, deps.Events.Commit, false, email, mapped, reason("ledger_failed"))
		}
		return mapped
	}

	fail := func(err, surfaced error, why string) error {
		deps.ReleaseToken(ctx, claims.ID)
		deps.MetricInc(deps.Metrics.CommitFailure)
		deps.EmitAudit(ctx, deps.Events.Commit, false, email, err, reason(why))
		return surfaced
	}

	account, err := deps.LookupAccount(ctx, email)
	if err != nil {
		if deps.IsAccountNotFound(err) {
			return fail(err, deps.Errors.TokenInvalid, "account_gone")
		}
		return fail(err, deps.Errors.Unavailable, "directory_failed")
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail(err, deps.Errors.Unavailable, "hash_failed")
	}
	if err := deps.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		return fail(err, deps.Errors.Unavailable, "update_hash_failed")
	}

	deps.MetricInc(deps.Metrics.CommitSuccess)
	deps.EmitAudit(ctx, deps.Events.Commit, true, email, nil, nil)
	return nil
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckRequestLimiter == nil {
		deps.CheckRequestLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.CheckVerifyLimiter == nil {
		deps.CheckVerifyLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.CheckCommitLimiter == nil {
		deps.CheckCommitLimiter = func(context.Context, string) error { return nil }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(err error) error { return err }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.IsAccountNotFound == nil {
		deps.IsAccountNotFound = func(error) bool { return false }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
	}
	if deps.ReleaseToken == nil {
		deps.ReleaseToken = func(context.Context, string) error { return nil }
	}
	if deps.CheckPolicy == nil {
		deps.CheckPolicy = func(string) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.CodeDigits == 0 {
		deps.CodeDigits = 6
	}
	if deps.MaxAttempts == 0 {
		deps.MaxAttempts = 5
	}
	if deps.CodeTTL == 0 {
		deps.CodeTTL = 10 * time.Minute
	}
	if deps.Errors.NotReady == nil {
		deps.Errors.NotReady = errors.New("recovery flows not initialized")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func digitsOnly(code string, n int) bool {
	if len(code) != n {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}
