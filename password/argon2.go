package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMinLength matches the client-side new password rule.
	DefaultMinLength = 6
	// DefaultMaxLength bounds the work an attacker can force per hash.
	DefaultMaxLength = 1024
)

var (
	// ErrPolicy wraps every password policy rejection.
	ErrPolicy = errors.New("password rejected by policy")
	// ErrMalformedHash is returned by Verify for an unparseable stored hash.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds argon2id cost parameters and the length policy. Zero
// MinLength and MaxLength select the defaults.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

// DefaultConfig returns interactive-login cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   DefaultMinLength,
		MaxLength:   DefaultMaxLength,
	}
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
}

// phc is one decoded $argon2id$v=19$m=..,t=..,p=..$salt$hash string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

var b64 = base64.StdEncoding

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

// NewArgon2 rejects cost parameters below the package minimums.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// CheckPolicy returns an error wrapping ErrPolicy when password violates the
// length policy. Lengths are raw bytes; no Unicode normalization is applied.
func (a *Argon2) CheckPolicy(password string) error {
	switch {
	case len(password) < a.config.MinLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, a.config.MinLength)
	case len(password) > a.config.MaxLength:
		return fmt.Errorf("%w: must be at most %d characters", ErrPolicy, a.config.MaxLength)
	}
	return nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	if err := a.CheckPolicy(password); err != nil {
		return "", err
	}
	p := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
		key:         make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", err
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify reports whether password matches encodedHash in constant time.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxLength {
		return false, fmt.Errorf("%w: password too long", ErrPolicy)
	}
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with cost parameters
// other than the current ones. Unparseable hashes always need a rehash.
func (a *Argon2) NeedsRehash(encodedHash string) bool {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return true
	}
	return p.memory != a.config.Memory ||
		p.time != a.config.Time ||
		p.parallelism != a.config.Parallelism ||
		uint32(len(p.salt)) != a.config.SaltLength ||
		uint32(len(p.key)) != a.config.KeyLength
}

func decodePHC(s string) (phc, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phc{}, errors.New("invalid PHC format")
	}
	if fields[1] != algorithmID {
		return phc{}, errors.New("unsupported algorithm")
	}

	var version int
	if n, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || n != 1 {
		return phc{}, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return phc{}, errors.New("unsupported argon2 version")
	}

	var (
		p           phc
		parallelism uint32
	)
	if n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallelism); err != nil || n != 3 {
		return phc{}, errors.New("invalid parameters")
	}
	if fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, parallelism) != fields[3] {
		return phc{}, errors.New("invalid parameters")
	}
	switch {
	case p.memory < minMemoryKB:
		return phc{}, errors.New("invalid memory parameter")
	case p.time < minTimeCost:
		return phc{}, errors.New("invalid time parameter")
	case parallelism < uint32(minParallelism) || parallelism > 255:
		return phc{}, errors.New("invalid parallelism parameter")
	}
	p.parallelism = uint8(parallelism)

	var err error
	if p.salt, err = b64.DecodeString(fields[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return phc{}, errors.New("invalid salt")
	}
	if p.key, err = b64.DecodeString(fields[5]); err != nil || len(p.key) == 0 {
		return phc{}, errors.New("invalid hash")
	}
	return p, nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	case cfg.MinLength < 1 || cfg.MaxLength < cfg.MinLength:
		return errors.New("password length bounds are invalid")
	}
	return nil
}
