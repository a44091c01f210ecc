package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts scheduler activity. A nil *Metrics records nothing.
type Metrics struct {
	scans       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	duration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispute_scheduler_scans_total",
				Help: "Scheduler scan cycles by outcome",
			},
			[]string{"result"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispute_auto_transitions_total",
				Help: "Automatic ticket transitions applied",
			},
			[]string{"kind"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispute_scheduler_scan_duration_seconds",
				Help:    "Duration of one scheduler scan cycle",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}

func (m *Metrics) scan(result string, seconds float64) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}
