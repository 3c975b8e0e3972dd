// Package metrics exposes a Prometheus registry of counters for the
// analyzer core: records processed, diagnostics by kind, and the
// number of live Lifetime Tracker tracks, scraped over HTTP via
// promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdsc/blktrace/blkio"
)

// Metrics holds the registered collectors for one analyzer run.
type Metrics struct {
	reg *prometheus.Registry

	RecordsProcessed *prometheus.CounterVec
	Diagnostics      *prometheus.CounterVec
	LiveTracks       prometheus.Gauge
}

// New registers a fresh set of collectors against a private registry,
// so multiple analyzer instances in the same process (e.g. in tests)
// don't collide on the global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		RecordsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "blktrace",
			Name:      "records_processed_total",
			Help:      "Records emitted by the merger, by action letter.",
		}, []string{"action"}),
		Diagnostics: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "blktrace",
			Name:      "diagnostics_total",
			Help:      "Non-fatal diagnostics, by kind.",
		}, []string{"kind"}),
		LiveTracks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "blktrace",
			Name:      "live_tracks",
			Help:      "RequestTracks currently outstanding in the Lifetime Tracker.",
		}),
	}
	return m
}

// ObserveRecord increments the processed-record counter for rec's
// action letter.
func (m *Metrics) ObserveRecord(rec *blkio.Record) {
	m.RecordsProcessed.WithLabelValues(string(rec.Letter())).Inc()
}

// ObserveDiagnostic increments the diagnostics counter for d's kind.
func (m *Metrics) ObserveDiagnostic(d blkio.Diagnostic) {
	m.Diagnostics.WithLabelValues(d.Kind.String()).Inc()
}

// Handler returns the HTTP handler that serves this Metrics' registry
// in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
