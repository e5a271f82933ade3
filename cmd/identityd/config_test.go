package main

import (
	"testing"
	"time"

	"github.com/MrEthical07/goRecover/jwt"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8090" || cfg.CodeTTL != 10*time.Minute || cfg.SigningMethod != "ed25519" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("IDENTITY_ADDR", ":9999")
	t.Setenv("IDENTITY_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("IDENTITY_TOKEN_TTL", "5m")
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.TokenTTL != 5*time.Minute {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestIdentityConfigDevGeneratesKey(t *testing.T) {
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	policy, err := cfg.identityConfig(true)
	if err != nil {
		t.Fatalf("identity config: %v", err)
	}
	if policy.Token.SigningMethod != jwt.MethodEd25519 || len(policy.Token.PrivateKey) == 0 {
		t.Fatalf("expected ephemeral ed25519 key")
	}
	if _, err := cfg.identityConfig(false); err == nil {
		t.Fatalf("expected missing key error outside dev mode")
	}
}

func TestIdentityConfigHS256(t *testing.T) {
	t.Setenv("IDENTITY_SIGNING_METHOD", "hs256")
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.identityConfig(false); err == nil {
		t.Fatalf("expected missing secret error")
	}
	cfg.HMACSecret = "0123456789abcdef0123456789abcdef"
	policy, err := cfg.identityConfig(false)
	if err != nil {
		t.Fatalf("identity config: %v", err)
	}
	if policy.Token.SigningMethod != jwt.MethodHS256 {
		t.Fatalf("expected hs256, got %s", policy.Token.SigningMethod)
	}
}

func TestIdentityConfigRejectsUnknownMethod(t *testing.T) {
	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.SigningMethod = "rs256"
	if _, err := cfg.identityConfig(true); err == nil {
		t.Fatalf("expected unsupported method error")
	}
}
