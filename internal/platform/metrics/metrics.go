package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the enrollment service.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsEvicted prometheus.Counter
	// Enrollments is labeled by terminal outcome: enrolled, rejected,
	// replayed, conflict, unnotified, failed.
	Enrollments    *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics with reg. Pass
// prometheus.DefaultRegisterer in main; tests use a fresh registry so suites
// don't collide on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_verification_sessions_started_total",
			Help: "Total number of verification sessions created",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "heirloom_verification_sessions_evicted_total",
			Help: "Total number of verification sessions removed by TTL eviction",
		}),
		Enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heirloom_enrollments_total",
			Help: "Total number of enrollment attempts by terminal outcome",
		}, []string{"outcome"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heirloom_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Enrollment outcome labels. Kept as constants so service and tests agree.
const (
	OutcomeEnrolled   = "enrolled"
	OutcomeRejected   = "rejected"
	OutcomeReplayed   = "replayed"
	OutcomeConflict   = "conflict"
	OutcomeUnnotified = "unnotified"
	OutcomeFailed     = "failed"
)

// IncEnrollment increments the enrollment counter for the given outcome.
func (m *Metrics) IncEnrollment(outcome string) {
	m.Enrollments.WithLabelValues(outcome).Inc()
}
