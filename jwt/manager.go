package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// PurposePasswordReset is the only purpose accepted by ParseReset.
const PurposePasswordReset = "password_reset"

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("reset token expired")
	// ErrTokenInvalid is returned for every other verification failure.
	ErrTokenInvalid = errors.New("reset token invalid")
)

// Config controls reset token issuance and verification.
type Config struct {
	ResetTTL      time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// Manager signs and verifies reset tokens. It is safe for concurrent use.
type Manager struct {
	config    Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	now       func() time.Time
}

// ResetClaims is the payload of a reset token. Subject is the account email.
type ResetClaims struct {
	Purpose string `json:"pur"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and resolves its keys once.
//
// HS256 signs and verifies with PrivateKey. Ed25519 needs a public key to
// verify; a manager without the private key can verify but not issue.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ResetTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 256 bits")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey, m.verifyKey = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		var pub ed25519.PublicKey
		if len(cfg.PrivateKey) > 0 {
			priv, err := decodeEdKey[ed25519.PrivateKey](cfg.PrivateKey, ed25519.PrivateKeySize, privateFromPEM)
			if err != nil {
				return nil, fmt.Errorf("ed25519 private key: %w", err)
			}
			m.signKey = priv
			pub = priv.Public().(ed25519.PublicKey)
		}
		if len(cfg.PublicKey) > 0 {
			var err error
			if pub, err = decodeEdKey[ed25519.PublicKey](cfg.PublicKey, ed25519.PublicKeySize, publicFromPEM); err != nil {
				return nil, fmt.Errorf("ed25519 public key: %w", err)
			}
		}
		if pub == nil {
			return nil, errors.New("ed25519 requires a public key")
		}
		m.verifyKey = pub
	default:
		return nil, errors.New("unsupported signing method")
	}
	return m, nil
}

// TTL returns the lifetime of issued tokens.
func (j *Manager) TTL() time.Duration {
	return j.config.ResetTTL
}

// CanIssue reports whether the manager holds a signing key.
func (j *Manager) CanIssue() bool {
	return j.signKey != nil
}

// IssueReset signs a token for email with a fresh random jti. The returned
// claims carry the jti and expiry so the caller can record single use.
func (j *Manager) IssueReset(email string) (string, *ResetClaims, error) {
	if email == "" {
		return "", nil, errors.New("reset token requires a subject")
	}
	if !j.CanIssue() {
		return "", nil, errors.New("manager has no signing key")
	}

	now := j.now()
	claims := &ResetClaims{
		Purpose: PurposePasswordReset,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.ResetTTL)),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	signed, err := token.SignedString(j.signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseReset verifies signature, algorithm, expiry, issuer, audience and
// purpose. Expired tokens fail with ErrTokenExpired, everything else with
// ErrTokenInvalid.
func (j *Manager) ParseReset(tokenStr string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	token, err := j.parser().ParseWithClaims(tokenStr, claims, j.keyFor)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case !token.Valid:
		return nil, ErrTokenInvalid
	case claims.Purpose != PurposePasswordReset:
		return nil, fmt.Errorf("%w: wrong purpose", ErrTokenInvalid)
	case claims.ID == "" || claims.Subject == "":
		return nil, fmt.Errorf("%w: missing jti or subject", ErrTokenInvalid)
	}
	return claims, nil
}

func (j *Manager) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.config.Audience))
	}
	return jwt.NewParser(opts...)
}

func (j *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	if j.config.KeyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return j.verifyKey, nil
}

// decodeEdKey accepts a raw key of rawSize bytes or a PEM block.
func decodeEdKey[K ed25519.PrivateKey | ed25519.PublicKey](key []byte, rawSize int, fromPEM func([]byte) (any, error)) (K, error) {
	if len(key) == rawSize {
		return K(key), nil
	}
	parsed, err := fromPEM(key)
	if err != nil {
		return nil, errors.New("not a raw key or PEM block")
	}
	k, ok := parsed.(K)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", parsed)
	}
	return k, nil
}

func privateFromPEM(b []byte) (any, error) { return jwt.ParseEdPrivateKeyFromPEM(b) }

func publicFromPEM(b []byte) (any, error) { return jwt.ParseEdPublicKeyFromPEM(b) }
