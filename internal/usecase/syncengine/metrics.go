package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fleetinspect/internal/ports"
)

// Metrics exposes drain outcomes and queue depth.
type Metrics struct {
	Entries    *prometheus.CounterVec
	Drains     *prometheus.CounterVec
	QueueDepth *prometheus.GaugeVec
	Pulled     *prometheus.CounterVec
}

// NewMetrics registers the sync metrics on reg. A nil reg builds unregistered
// collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Entries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetinspect_sync_entries_total",
			Help: "Queue entries processed by kind and outcome",
		}, []string{"kind", "outcome"}),
		Drains: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetinspect_sync_drains_total",
			Help: "Drain cycles by outcome",
		}, []string{"outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetinspect_sync_queue_depth",
			Help: "Queue entries by status after the last drain",
		}, []string{"status"}),
		Pulled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetinspect_sync_pulled_total",
			Help: "Assignments merged by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) entry(kind string, outcome string) {
	if m != nil {
		m.Entries.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) drain(outcome string) {
	if m != nil {
		m.Drains.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) depth(stats ports.QueueStats) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	m.QueueDepth.WithLabelValues("in_flight").Set(float64(stats.InFlight))
	m.QueueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
}

func (m *Metrics) pulled(outcome string, n int) {
	if m != nil && n > 0 {
		m.Pulled.WithLabelValues(outcome).Add(float64(n))
	}
}
