// Package internaldefs holds the metric names and histogram bounds shared by
// the exporters.
//
// Both the Prometheus and OTel exporters read these definitions, so a
// change here renames a metric everywhere at once.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
