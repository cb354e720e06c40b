// Package metrics exposes probe outcomes and version counts as Prometheus
// collectors, written out in the node-exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mxversions/internal/federation"
	"mxversions/internal/scan"
)

const namespace = "mxversions"

// Metrics implements federation.Observer.
type Metrics struct {
	reg *prometheus.Registry

	probes      *prometheus.CounterVec
	duration    prometheus.Histogram
	homeservers *prometheus.GaugeVec
	online      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Domains probed, by resolution method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Time to resolve a domain and fetch its version.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20},
		}),
		homeservers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "homeservers",
			Help:      "Homeservers reporting each version in the last run.",
		}, []string{"version"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "homeservers_online",
			Help:      "Homeservers that reported any version in the last run.",
		}),
	}
	m.reg.MustRegister(m.probes, m.duration, m.homeservers, m.online)
	return m
}

// Observe records one probe. Safe for concurrent use.
func (m *Metrics) Observe(r federation.Result) {
	outcome := "ok"
	if !r.OK() {
		outcome = "error"
	}
	m.probes.WithLabelValues(r.Resolution.Method.String(), outcome).Inc()
	m.duration.Observe(r.Elapsed.Seconds())
}

// SetTable replaces the per-version gauges with the counts in t.
func (m *Metrics) SetTable(t *scan.Table) {
	m.homeservers.Reset()
	for _, e := range t.Entries() {
		m.homeservers.WithLabelValues(e.Version).Set(float64(e.Count))
	}
	m.online.Set(float64(t.Total()))
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
