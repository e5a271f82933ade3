package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/goRecover/identity"
	"github.com/MrEthical07/goRecover/jwt"
)

// serverConfig is loaded from IDENTITY_* environment variables.
type serverConfig struct {
	Addr           string        `env:"IDENTITY_ADDR"            envDefault:":8090"`
	RedisURL       string        `env:"IDENTITY_REDIS_URL"`
	DirectoryPath  string        `env:"IDENTITY_DIRECTORY_PATH"`
	AllowedOrigins []string      `env:"IDENTITY_CORS_ORIGINS"    envSeparator:","`
	RequestTimeout time.Duration `env:"IDENTITY_REQUEST_TIMEOUT" envDefault:"10s"`
	AccessLog      bool          `env:"IDENTITY_ACCESS_LOG"      envDefault:"true"`
	AuditLog       bool          `env:"IDENTITY_AUDIT_LOG"       envDefault:"true"`
	AuditFile      string        `env:"IDENTITY_AUDIT_FILE"`
	Production     bool          `env:"IDENTITY_PRODUCTION"      envDefault:"false"`
	OtelEndpoint   string        `env:"IDENTITY_OTEL_ENDPOINT"`

	SigningMethod  string `env:"IDENTITY_SIGNING_METHOD"   envDefault:"ed25519"`
	SigningKeyFile string `env:"IDENTITY_SIGNING_KEY_FILE"`
	HMACSecret     string `env:"IDENTITY_HMAC_SECRET"`

	CodeTTL          time.Duration `env:"IDENTITY_CODE_TTL"          envDefault:"10m"`
	TokenTTL         time.Duration `env:"IDENTITY_TOKEN_TTL"         envDefault:"15m"`
	MaxCodeAttempts  int           `env:"IDENTITY_MAX_CODE_ATTEMPTS" envDefault:"5"`
	EnumerationDelay time.Duration `env:"IDENTITY_ENUMERATION_DELAY" envDefault:"150ms"`
	MinPasswordLen   int           `env:"IDENTITY_MIN_PASSWORD_LENGTH" envDefault:"6"`

	SeedEmail    string `env:"IDENTITY_SEED_EMAIL"    envDefault:"demo@example.com"`
	SeedPassword string `env:"IDENTITY_SEED_PASSWORD" envDefault:"demo-password"`
}

func loadServerConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// identityConfig turns the environment into the service policy. In dev mode
// a missing signing key is replaced by an ephemeral Ed25519 key.
func (c serverConfig) identityConfig(dev bool) (identity.Config, error) {
	out := identity.DefaultConfig()
	out.ProductionMode = c.Production
	out.CodeTTL = c.CodeTTL
	out.MaxCodeAttempts = c.MaxCodeAttempts
	out.EnumerationDelay = c.EnumerationDelay
	out.Token.ResetTTL = c.TokenTTL
	out.Audit.Enabled = c.AuditLog
	if c.MinPasswordLen > 0 {
		out.Password.MinLength = c.MinPasswordLen
	}

	switch strings.ToLower(c.SigningMethod) {
	case string(jwt.MethodHS256):
		if c.HMACSecret == "" {
			return identity.Config{}, errors.New("IDENTITY_HMAC_SECRET is required for hs256")
		}
		out.Token.SigningMethod = jwt.MethodHS256
		out.Token.PrivateKey = []byte(c.HMACSecret)
	case string(jwt.MethodEd25519):
		out.Token.SigningMethod = jwt.MethodEd25519
		switch {
		case c.SigningKeyFile != "":
			pem, err := os.ReadFile(c.SigningKeyFile)
			if err != nil {
				return identity.Config{}, fmt.Errorf("read signing key: %w", err)
			}
			out.Token.PrivateKey = pem
		case dev:
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return identity.Config{}, fmt.Errorf("generate signing key: %w", err)
			}
			out.Token.PrivateKey = priv
		default:
			return identity.Config{}, errors.New("IDENTITY_SIGNING_KEY_FILE is required for ed25519")
		}
	default:
		return identity.Config{}, fmt.Errorf("unsupported IDENTITY_SIGNING_METHOD %q", c.SigningMethod)
	}

	if err := out.Validate(); err != nil {
		return identity.Config{}, err
	}
	return out, nil
}
