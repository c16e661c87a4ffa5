package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the verification gate.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Arrival and submission metrics
	Arrivals    *prometheus.CounterVec
	Submissions *prometheus.CounterVec
	Resolutions *prometheus.CounterVec

	// Sweeper metrics
	Sweeps        prometheus.Counter
	SweepDuration prometheus.Histogram
	Swept         *prometheus.CounterVec

	// Collaborator failures (notifications, disconnects, actions, event sinks)
	DeliveryFailures *prometheus.CounterVec

	// Sessions currently in the store, by status
	Sessions *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Arrivals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifygate_arrivals_total",
				Help: "Total number of user arrivals by result",
			},
			[]string{"result"},
		),
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifygate_submissions_total",
				Help: "Total number of code submissions by outcome",
			},
			[]string{"outcome"},
		),
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifygate_resolutions_total",
				Help: "Total number of sessions reaching a terminal status",
			},
			[]string{"status"},
		),

		Sweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "verifygate_sweeps_total",
				Help: "Total number of sweeper runs",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verifygate_sweep_duration_seconds",
				Help:    "Sweeper run duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		Swept: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifygate_swept_sessions_total",
				Help: "Total number of sessions removed by the sweeper",
			},
			[]string{"reason"},
		),

		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifygate_delivery_failures_total",
				Help: "Total number of failed calls to external collaborators",
			},
			[]string{"kind"},
		),

		Sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "verifygate_sessions",
				Help: "Sessions currently held in the store by status",
			},
			[]string{"status"},
		),
	}
}

// RecordArrival counts an arrival; result is "challenged", "bypassed" or "error"
func (m *Metrics) RecordArrival(result string) {
	if m == nil {
		return
	}
	m.Arrivals.WithLabelValues(result).Inc()
}

// RecordSubmission counts a submission by outcome kind
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// RecordResolution counts a terminal transition
func (m *Metrics) RecordResolution(status string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(status).Inc()
}

// RecordSweep records one sweeper run
func (m *Metrics) RecordSweep(d time.Duration, expired, evicted int) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.SweepDuration.Observe(d.Seconds())
	if expired > 0 {
		m.Swept.WithLabelValues("timeout").Add(float64(expired))
	}
	if evicted > 0 {
		m.Swept.WithLabelValues("evicted").Add(float64(evicted))
	}
}

// RecordDeliveryFailure counts a failed collaborator call
func (m *Metrics) RecordDeliveryFailure(kind string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(kind).Inc()
}

// SetSessions replaces the per-status session gauge values
func (m *Metrics) SetSessions(counts map[string]int) {
	if m == nil {
		return
	}
	m.Sessions.Reset()
	for status, n := range counts {
		m.Sessions.WithLabelValues(status).Set(float64(n))
	}
}
