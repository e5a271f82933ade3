package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goRecover.MetricsSnapshot
	AuditDropped() uint64
}

// Option customizes an OTelExporter.
type Option func(*OTelExporter)

// WithAttributes adds attrs to every observation, for example to tell several
// stores apart on one meter.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(e *OTelExporter) {
		e.common = append(e.common, attrs...)
	}
}

type counterBinding struct {
	id goRecover.MetricID
	ob metric.Int64ObservableCounter
}

// histogramBinding reports one cumulative series per le bound plus a total.
type histogramBinding struct {
	id      goRecover.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	le      []attribute.Set
}

// OTelExporter reports a metrics snapshot through observable instruments on
// every collection.
type OTelExporter struct {
	source       metricsSource
	common       []attribute.KeyValue
	counters     []counterBinding
	histograms   []histogramBinding
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// NewOTelExporter observes the counters of a SessionStore.
func NewOTelExporter(meter metric.Meter, store *goRecover.SessionStore, opts ...Option) (*OTelExporter, error) {
	if store == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, store, opts...)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	for _, opt := range opts {
		opt(e)
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ob, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, ob: ob})
		observables = append(observables, ob)
	}

	for _, def := range internaldefs.HistogramDefs {
		b := histogramBinding{id: def.ID}
		var err error
		if b.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per le bound.")); err != nil {
			return nil, fmt.Errorf("histogram %s buckets: %w", def.Name, err)
		}
		if b.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count.")); err != nil {
			return nil, fmt.Errorf("histogram %s count: %w", def.Name, err)
		}
		for _, le := range internaldefs.HistogramBounds {
			kv := append([]attribute.KeyValue{attribute.String("le", le)}, e.common...)
			b.le = append(b.le, attribute.NewSet(kv...))
		}
		e.histograms = append(e.histograms, b)
		observables = append(observables, b.buckets, b.count)
	}

	dropped, err := meter.Int64ObservableCounter("gorecover_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."))
	if err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	common := metric.WithAttributes(e.common...)
	snap := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.ob, int64(snap.Counters[c.id]), common)
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, set := range h.le {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), metric.WithAttributeSet(set))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), common)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), common)
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
