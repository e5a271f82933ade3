// Package prometheus renders SessionStore metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goRecover.SessionStore] and exposes an
// [http.Handler]. Counter names are prefixed gorecover_*_total; the single
// histogram is gorecover_gateway_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate session state.
package prometheus
