package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// Report summarizes the security posture of a running identity service.
type Report struct {
	ProductionMode         bool
	SigningAlgorithm       string
	TokenTTL               time.Duration
	CodeTTL                time.Duration
	CodeDigits             int
	MaxCodeAttempts        int
	Argon2                 PasswordReport
	RateLimitingActive     bool
	IPThrottleActive       bool
	EnumerationDelayActive bool
	Warnings               []string
}

type ReportInput struct {
	ProductionMode      bool
	SigningAlgorithm    string
	TokenTTL            time.Duration
	CodeTTL             time.Duration
	CodeDigits          int
	MaxCodeAttempts     int
	Password            PasswordReport
	MaxRequestsPerEmail int
	MaxRequestsPerIP    int
	MaxVerifiesPerEmail int
	MaxVerifiesPerIP    int
	LimiterWindow       time.Duration
	EnumerationDelay    time.Duration
}

func BuildReport(input ReportInput) Report {
	rateLimiting := input.LimiterWindow > 0 &&
		(input.MaxRequestsPerEmail > 0 || input.MaxVerifiesPerEmail > 0)
	ipThrottle := input.LimiterWindow > 0 &&
		(input.MaxRequestsPerIP > 0 || input.MaxVerifiesPerIP > 0)

	report := Report{
		ProductionMode:         input.ProductionMode,
		SigningAlgorithm:       input.SigningAlgorithm,
		TokenTTL:               input.TokenTTL,
		CodeTTL:                input.CodeTTL,
		CodeDigits:             input.CodeDigits,
		MaxCodeAttempts:        input.MaxCodeAttempts,
		Argon2:                 input.Password,
		RateLimitingActive:     rateLimiting,
		IPThrottleActive:       ipThrottle,
		EnumerationDelayActive: input.EnumerationDelay > 0,
	}

	if !rateLimiting {
		report.Warnings = append(report.Warnings, "per-email rate limiting disabled")
	}
	if input.MaxCodeAttempts <= 0 || input.MaxCodeAttempts > 10 {
		report.Warnings = append(report.Warnings, "code attempt cap missing or above 10")
	}
	if input.CodeTTL > 30*time.Minute {
		report.Warnings = append(report.Warnings, "code ttl above 30m")
	}
	if input.TokenTTL > time.Hour {
		report.Warnings = append(report.Warnings, "reset token ttl above 1h")
	}
	if input.ProductionMode && input.EnumerationDelay <= 0 {
		report.Warnings = append(report.Warnings, "enumeration delay disabled in production")
	}
	return report
}
