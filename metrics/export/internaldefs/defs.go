package internaldefs

import (
	goRecover "github.com/MrEthical07/goRecover"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goRecover.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goRecover.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported SessionStore counter.
var CounterDefs = []CounterDef{
	{ID: goRecover.MetricResetRequested, Name: "gorecover_reset_requested_total", Help: "Recoveries started with an accepted code request."},
	{ID: goRecover.MetricRequestFailure, Name: "gorecover_request_failure_total", Help: "Code requests that failed remotely."},
	{ID: goRecover.MetricCodeResent, Name: "gorecover_code_resent_total", Help: "Accepted code resends."},
	{ID: goRecover.MetricCodeVerified, Name: "gorecover_code_verified_total", Help: "Codes exchanged for a reset token."},
	{ID: goRecover.MetricCodeRejected, Name: "gorecover_code_rejected_total", Help: "Codes rejected as wrong or expired."},
	{ID: goRecover.MetricVerifyRemoteFailure, Name: "gorecover_verify_remote_failure_total", Help: "Code checks that failed in transport."},
	{ID: goRecover.MetricPasswordCommitted, Name: "gorecover_password_committed_total", Help: "Recoveries that changed the password."},
	{ID: goRecover.MetricCommitAuthFailure, Name: "gorecover_commit_auth_failure_total", Help: "Password commits rejected for an invalid token."},
	{ID: goRecover.MetricCommitRemoteFailure, Name: "gorecover_commit_remote_failure_total", Help: "Password commits that failed in transport."},
	{ID: goRecover.MetricCommitPolicyRejected, Name: "gorecover_commit_policy_rejected_total", Help: "New passwords rejected by server policy."},
	{ID: goRecover.MetricValidationRejected, Name: "gorecover_validation_rejected_total", Help: "Inputs rejected before any remote call."},
	{ID: goRecover.MetricTransitionRejected, Name: "gorecover_transition_rejected_total", Help: "Operations refused in the current step."},
	{ID: goRecover.MetricStaleResponseDropped, Name: "gorecover_stale_response_dropped_total", Help: "Responses discarded after cancel."},
	{ID: goRecover.MetricDebouncedRequest, Name: "gorecover_debounced_request_total", Help: "Code requests folded into a pending one."},
	{ID: goRecover.MetricCancelled, Name: "gorecover_cancelled_total", Help: "Cancelled recoveries."},
	{ID: goRecover.MetricRehydrated, Name: "gorecover_rehydrated_total", Help: "Sessions restored from the persistence mirror."},
	{ID: goRecover.MetricMirrorFailure, Name: "gorecover_mirror_failure_total", Help: "Failed persistence mirror reads and writes."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goRecover.MetricGatewayLatency, Name: "gorecover_gateway_latency_seconds", Help: "Identity service round-trip latency."},
}

// HistogramBounds are the le labels matching goRecover.LatencyBucketBounds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
