package goRecover

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter tracked by a SessionStore.
type MetricID uint16

const (
	// MetricResetRequested counts accepted RequestReset calls.
	MetricResetRequested MetricID = iota
	// MetricRequestFailure counts RequestReset calls the gateway failed.
	MetricRequestFailure
	// MetricCodeResent counts accepted ResendCode calls.
	MetricCodeResent
	// MetricCodeVerified counts codes exchanged for a reset token.
	MetricCodeVerified
	// MetricCodeRejected counts codes rejected as wrong or expired.
	MetricCodeRejected
	// MetricVerifyRemoteFailure counts verify calls that failed in transport.
	MetricVerifyRemoteFailure
	// MetricPasswordCommitted counts recoveries that reached StepDone.
	MetricPasswordCommitted
	// MetricCommitAuthFailure counts commits rejected for an invalid token.
	MetricCommitAuthFailure
	// MetricCommitRemoteFailure counts commits that failed in transport.
	MetricCommitRemoteFailure
	// MetricCommitPolicyRejected counts passwords rejected by server policy.
	MetricCommitPolicyRejected
	// MetricValidationRejected counts locally rejected inputs.
	MetricValidationRejected
	// MetricTransitionRejected counts operations refused by the state machine.
	MetricTransitionRejected
	// MetricStaleResponseDropped counts gateway responses dropped after Cancel.
	MetricStaleResponseDropped
	// MetricDebouncedRequest counts RequestReset calls folded into a pending one.
	MetricDebouncedRequest
	// MetricCancelled counts Cancel calls.
	MetricCancelled
	// MetricRehydrated counts sessions restored from the mirror.
	MetricRehydrated
	// MetricMirrorFailure counts mirror reads and writes that failed.
	MetricMirrorFailure
	// MetricGatewayLatency is the gateway round-trip histogram.
	MetricGatewayLatency
	metricIDCount
)

// MetricCount is the number of declared MetricID values.
const MetricCount = int(metricIDCount)

const cacheLineSize = 64

// latencyBounds are the inclusive upper bounds of every bucket but the last,
// which is unbounded.
var latencyBounds = [...]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

const histBucketCount = len(latencyBounds) + 1

// paddedCounter keeps each counter on its own cache line.
type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics is a set of lock-free counters and the gateway latency histogram.
//
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of a Metrics value.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the gateway latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc is safe for concurrent use and never blocks.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || id == MetricGatewayLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Only MetricGatewayLatency
// carries a histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricGatewayLatency {
		return
	}
	m.latency[bucketIndex(d)].Add(1)
}

// Value returns the current counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot reads every counter atomically but not as a single transaction;
// values recorded concurrently may or may not be included.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := range metricIDCount {
		if id != MetricGatewayLatency {
			s.Counters[id] = m.counters[id].Load()
		}
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricGatewayLatency] = buckets
	}
	return s
}

// LatencyBucketBounds returns the inclusive upper bound of each histogram
// bucket. The last bucket is unbounded and reported as zero.
func LatencyBucketBounds() []time.Duration {
	return append(latencyBounds[:len(latencyBounds):len(latencyBounds)], 0)
}

// bucketIndex compares at millisecond resolution.
func bucketIndex(d time.Duration) int {
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
