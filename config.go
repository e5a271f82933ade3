package goRecover

import (
	"errors"
	"fmt"
)

// Config controls input policy and telemetry of a SessionStore.
//
// Config values are copied by the Builder and treated as immutable once the
// store is built.
type Config struct {
	// CodeDigits is the exact length of a one-time passcode.
	CodeDigits int
	// MinPasswordLength is the minimum new password length, in bytes.
	MinPasswordLength int
	// RehydrateOnBuild restores the session from the mirror in Build.
	RehydrateOnBuild bool
	Audit            AuditConfig
	Metrics          MetricsConfig
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		CodeDigits:        6,
		MinPasswordLength: 6,
		RehydrateOnBuild:  true,
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// Validate returns an error wrapping ErrInvalidConfig for the first invalid
// field it finds. It does not mutate c.
func (c *Config) Validate() error {
	if c.CodeDigits < 4 || c.CodeDigits > 10 {
		return fmt.Errorf("%w: CodeDigits must be between 4 and 10", ErrInvalidConfig)
	}
	if c.MinPasswordLength < 1 {
		return fmt.Errorf("%w: MinPasswordLength must be > 0", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: Audit BufferSize must be > 0 when audit is enabled", ErrInvalidConfig)
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: latency histograms require Metrics Enabled", ErrInvalidConfig)
	}
	return nil
}
