package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/internal/limiters"
	"github.com/MrEthical07/goRecover/jwt"
	"github.com/MrEthical07/goRecover/password"
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid identity config")

// Config is the server-side recovery policy.
type Config struct {
	ProductionMode bool

	CodeDigits      int
	CodeTTL         time.Duration
	MaxCodeAttempts int

	// EnumerationDelay is slept, plus up to EnumerationJitter, before
	// accepting a request for an unknown email.
	EnumerationDelay  time.Duration
	EnumerationJitter time.Duration

	RedisPrefix string

	Token    jwt.Config
	Password password.Config
	Limits   limiters.RecoveryConfig
	Audit    audit.Config
}

// DefaultConfig returns the production policy without signing keys. Callers
// must set Token.PrivateKey (and PublicKey for Ed25519).
func DefaultConfig() Config {
	return Config{
		CodeDigits:        6,
		CodeTTL:           10 * time.Minute,
		MaxCodeAttempts:   5,
		EnumerationDelay:  150 * time.Millisecond,
		EnumerationJitter: 100 * time.Millisecond,
		RedisPrefix:       "idr",
		Token: jwt.Config{
			ResetTTL:      15 * time.Minute,
			SigningMethod: jwt.MethodEd25519,
			Issuer:        "goRecover",
			Audience:      "password-reset",
			Leeway:        5 * time.Second,
		},
		Password: password.DefaultConfig(),
		Limits: limiters.RecoveryConfig{
			Window:              15 * time.Minute,
			MaxRequestsPerEmail: 5,
			MaxRequestsPerIP:    30,
			MaxVerifiesPerEmail: 10,
			MaxVerifiesPerIP:    60,
			MaxCommitsPerIP:     30,
		},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 512,
			DropIfFull: true,
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.CodeDigits < 4 || c.CodeDigits > 10 {
		return fmt.Errorf("%w: code digits must be between 4 and 10", ErrInvalidConfig)
	}
	if c.CodeTTL <= 0 {
		return fmt.Errorf("%w: code ttl must be > 0", ErrInvalidConfig)
	}
	if c.MaxCodeAttempts <= 0 {
		return fmt.Errorf("%w: max code attempts must be > 0", ErrInvalidConfig)
	}
	if c.Token.ResetTTL <= 0 {
		return fmt.Errorf("%w: reset token ttl must be > 0", ErrInvalidConfig)
	}
	if c.EnumerationDelay < 0 || c.EnumerationJitter < 0 {
		return fmt.Errorf("%w: enumeration delay must be >= 0", ErrInvalidConfig)
	}
	if c.ProductionMode && c.Token.SigningMethod == jwt.MethodHS256 && len(c.Token.PrivateKey) < 32 {
		return fmt.Errorf("%w: hs256 key must be at least 32 bytes", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit buffer size must be > 0", ErrInvalidConfig)
	}
	return nil
}
