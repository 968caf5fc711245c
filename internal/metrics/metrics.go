// Package metrics holds the Prometheus instruments of the lead engine.
// Methods are safe on a nil *Metrics so callers can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every instrument the engine exports.
type Metrics struct {
	ingests          *prometheus.CounterVec
	matches          *prometheus.CounterVec
	merges           *prometheus.CounterVec
	superseded       prometheus.Counter
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them on registerer. A nil
// registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_ingest_total",
			Help: "Ingested signals by result (created, updated, error).",
		}, []string{"result"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_match_total",
			Help: "Cascade resolutions by tier; tier none means a new lead.",
		}, []string{"tier"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_merge_total",
			Help: "Consolidation attempts by outcome.",
		}, []string{"outcome"}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leads_superseded_total",
			Help: "Leads marked merged into a principal.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leads_webhook_deliveries_total",
			Help: "Webhook delivery attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leads_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery latency by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
	}

	registerer.MustRegister(m.ingests, m.matches, m.merges, m.superseded, m.deliveries, m.deliveryDuration)
	return m
}

// Ingest counts one ingestion by result.
func (m *Metrics) Ingest(result string) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(result).Inc()
}

// Match counts one cascade resolution.
func (m *Metrics) Match(tier string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(tier).Inc()
}

// Merge counts one merge attempt and the leads it superseded.
func (m *Metrics) Merge(outcome string, superseded int) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(outcome).Inc()
	if superseded > 0 {
		m.superseded.Add(float64(superseded))
	}
}

// Delivery records one webhook attempt.
func (m *Metrics) Delivery(event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(event, outcome).Inc()
	m.deliveryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
