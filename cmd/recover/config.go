package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/internal/startup"
	"github.com/MrEthical07/goRecover/mirror"
)

// clientConfig is loaded from RECOVER_* environment variables.
type clientConfig struct {
	IdentityURL     string        `env:"RECOVER_IDENTITY_URL"     envDefault:"http://localhost:8090"`
	RequestTimeout  time.Duration `env:"RECOVER_REQUEST_TIMEOUT"  envDefault:"10s"`
	Mirror          string        `env:"RECOVER_MIRROR"           envDefault:"file"`
	MirrorPath      string        `env:"RECOVER_MIRROR_PATH"`
	MirrorScope     string        `env:"RECOVER_MIRROR_SCOPE"     envDefault:"default"`
	RedisURL        string        `env:"RECOVER_REDIS_URL"`
	CodeDigits      int           `env:"RECOVER_CODE_DIGITS"      envDefault:"6"`
	MinPasswordLen  int           `env:"RECOVER_MIN_PASSWORD_LENGTH" envDefault:"6"`
	AuditFile       string        `env:"RECOVER_AUDIT_FILE"`
	MetricsFile     string        `env:"RECOVER_METRICS_FILE"`
	DevLogFile      string        `env:"RECOVER_DEV_LOG"          envDefault:"recover-dev.log"`
	OtelEndpoint    string        `env:"RECOVER_OTEL_ENDPOINT"`
}

func loadClientConfig() (clientConfig, error) {
	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		return clientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// storeConfig is the session store policy derived from the environment.
func (c clientConfig) storeConfig() goRecover.Config {
	cfg := goRecover.DefaultConfig()
	cfg.CodeDigits = c.CodeDigits
	cfg.MinPasswordLength = c.MinPasswordLen
	cfg.Audit.Enabled = c.AuditFile != ""
	cfg.Metrics.Enabled = c.MetricsFile != ""
	cfg.Metrics.EnableLatencyHistograms = c.MetricsFile != ""
	return cfg
}

// openMirror builds the configured mirror backend. The returned closer
// releases the backend and is never nil.
func (c clientConfig) openMirror(ctx context.Context) (*mirror.Mirror, func(), error) {
	noop := func() {}
	var (
		backend mirror.Backend
		closer  = noop
	)

	switch c.Mirror {
	case "memory":
		backend = mirror.NewMemory()
	case "file":
		path := c.MirrorPath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, noop, fmt.Errorf("locate config dir: %w", err)
			}
			path = filepath.Join(dir, "gorecover", c.MirrorScope+".yaml")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, noop, fmt.Errorf("create mirror dir: %w", err)
		}
		f, err := mirror.NewFile(path)
		if err != nil {
			return nil, noop, err
		}
		backend = f
	case "sqlite":
		path := c.MirrorPath
		if path == "" {
			path = "gorecover-mirror.db"
		}
		s, err := mirror.OpenSQLite(path, c.MirrorScope)
		if err != nil {
			return nil, noop, err
		}
		backend = s
		closer = func() { _ = s.Close() }
	case "redis":
		client, err := startup.ConnectRedisWithRetry(ctx, c.RedisURL, 10*time.Second)
		if err != nil {
			return nil, noop, err
		}
		r, err := mirror.NewRedis(client, c.MirrorScope, mirror.RedisOptions{})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		backend = r
		closer = func() { _ = client.Close() }
	default:
		return nil, noop, fmt.Errorf("unknown RECOVER_MIRROR %q (want file, sqlite, redis or memory)", c.Mirror)
	}

	m, err := mirror.New(backend)
	if err != nil {
		closer()
		return nil, noop, err
	}
	return m, closer, nil
}
