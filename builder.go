package goRecover

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goRecover/internal/audit"
	"github.com/MrEthical07/goRecover/mirror"
)

// Builder assembles a SessionStore. A Builder is single use.
type Builder struct {
	config    Config
	gateway   Gateway
	mirror    Mirror
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithGateway sets the identity service client. Required.
func (b *Builder) WithGateway(g Gateway) *Builder {
	b.gateway = g
	return b
}

// WithMirror sets the durable mirror. Without one the store keeps its mirror
// in memory and nothing survives a restart of the process.
func (b *Builder) WithMirror(m Mirror) *Builder {
	b.mirror = m
	return b
}

// The sink only receives events when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the gateway latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, starts the audit dispatcher and, when
// Config.RehydrateOnBuild is set, restores the session from the mirror. A
// mirror that cannot be read yields an empty session, not an error.
func (b *Builder) Build() (*SessionStore, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.gateway == nil {
		return nil, ErrGatewayRequired
	}

	m := b.mirror
	if m == nil {
		mm, err := mirror.New(mirror.NewMemory())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreNotReady, err)
		}
		m = mm
	}

	store := &SessionStore{
		cfg:     cfg,
		gateway: b.gateway,
		mirror:  m,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	if cfg.RehydrateOnBuild {
		store.reload(false)
	}

	b.built = true

	return store, nil
}
