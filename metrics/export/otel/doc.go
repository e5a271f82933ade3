// Package otel binds SessionStore counters and the gateway latency histogram
// to OpenTelemetry instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and, per
// histogram, a bucket gauge keyed by an "le" attribute plus a count gauge.
// A single callback reads
// [goRecover.SessionStore.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate session state.
package otel
