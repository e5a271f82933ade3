package password

import (
	"errors"
	"strings"
	"testing"
)

// testConfig keeps argon2 cheap so the suite stays fast.
func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	hasher, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return hasher
}

func TestHashAndVerify(t *testing.T) {
	hasher := newHasher(t, testConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher := newHasher(t, testConfig())

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestSixCharacterPasswordAccepted(t *testing.T) {
	hasher := newHasher(t, testConfig())

	if err := hasher.CheckPolicy("secret"); err != nil {
		t.Fatalf("expected six characters to pass policy: %v", err)
	}
	if err := hasher.CheckPolicy("short"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected ErrPolicy for five characters, got %v", err)
	}
	if _, err := hasher.Hash(""); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected ErrPolicy for empty password, got %v", err)
	}
}

func TestLengthBoundsConfigurable(t *testing.T) {
	cfg := testConfig()
	cfg.MinLength = 10
	cfg.MaxLength = 64
	hasher := newHasher(t, cfg)

	if _, err := hasher.Hash("123456789"); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected min length rejection, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected max length rejection, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := hasher.Hash(exact)
	if err != nil {
		t.Fatalf("expected exactly-max password to be accepted: %v", err)
	}
	if ok, err := hasher.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify failed for max-length password: ok=%v err=%v", ok, err)
	}
	if _, err := hasher.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPolicy) {
		t.Fatalf("expected long password to be rejected by Verify, got %v", err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newHasher(t, testConfig())

	if _, err := hasher.Verify("password", "not-a-phc-hash"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher := newHasher(t, testConfig())

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Memory = 1024 },
		func(c *Config) { c.Time = 0 },
		func(c *Config) { c.SaltLength = 8 },
		func(c *Config) { c.MinLength = 10; c.MaxLength = 5 },
	}
	for i, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	hasher := newHasher(t, testConfig())
	hash, err := hasher.Hash("rehash-me")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if hasher.NeedsRehash(hash) {
		t.Fatal("hash under current parameters must not need a rehash")
	}

	stronger := testConfig()
	stronger.Time = 2
	if !newHasher(t, stronger).NeedsRehash(hash) {
		t.Fatal("hash under weaker parameters must need a rehash")
	}
	if !hasher.NeedsRehash("not-a-phc-hash") {
		t.Fatal("malformed hash must need a rehash")
	}
}

func TestVerifyRejectsTrailingParameterGarbage(t *testing.T) {
	hasher := newHasher(t, testConfig())
	hash, err := hasher.Hash("garbage-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	tampered := strings.Replace(hash, ",p=1$", ",p=1x$", 1)
	if _, err := hasher.Verify("garbage-test", tampered); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}
