package prometheus

import (
	"bufio"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goRecover.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders SessionStore metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
	labels string
}

// NewPrometheusExporter creates a Prometheus exporter that reads from store.
func NewPrometheusExporter(store *goRecover.SessionStore) *PrometheusExporter {
	return &PrometheusExporter{source: store}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from a
// custom metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// WithConstLabels attaches labels to every sample. Keys are emitted in
// sorted order.
func (p *PrometheusExporter) WithConstLabels(labels map[string]string) *PrometheusExporter {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+`="`+escapeLabel(labels[k])+`"`)
	}
	p.labels = strings.Join(pairs, ",")
	return p
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = p.WriteTo(w)
	})
}

// Render returns the current metrics as a string. Disabled metrics render
// as the empty string.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	_, _ = p.WriteTo(&b)
	return b.String()
}

// WriteTo writes the current metrics to w.
func (p *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	if p == nil || p.source == nil {
		return 0, nil
	}
	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return 0, nil
	}

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for _, def := range internaldefs.CounterDefs {
		p.counter(cw, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histogram(cw, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID])))
	}
	p.counter(cw, "gorecover_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", dropped)

	if err := cw.w.Flush(); err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

func (p *PrometheusExporter) counter(w *countingWriter, name, help string, v uint64) {
	w.header(name, help, "counter")
	w.sample(name, p.labels, v)
}

func (p *PrometheusExporter) histogram(w *countingWriter, name, help string, cumulative [8]uint64) {
	w.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		labels := `le="` + le + `"`
		if p.labels != "" {
			labels = p.labels + "," + labels
		}
		w.sample(name+"_bucket", labels, cumulative[i])
	}
	w.sample(name+"_count", p.labels, cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	w.sample(name+"_sum", p.labels, 0)
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) write(s string) {
	if c.err != nil {
		return
	}
	n, err := c.w.WriteString(s)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) header(name, help, kind string) {
	c.write("# HELP " + name + " " + escapeHelp(help) + "\n")
	c.write("# TYPE " + name + " " + kind + "\n")
}

func (c *countingWriter) sample(name, labels string, v uint64) {
	if labels != "" {
		name += "{" + labels + "}"
	}
	c.write(name + " " + strconv.FormatUint(v, 10) + "\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}

func escapeLabel(v string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(v)
}
