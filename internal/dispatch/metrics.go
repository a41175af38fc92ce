package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tverify"

// Metrics are the dispatcher's Prometheus collectors, labeled by backend.
type Metrics struct {
	Submitted  *prometheus.CounterVec
	Completed  *prometheus.CounterVec
	Faults     *prometheus.CounterVec
	QueueDepth *prometheus.GaugeVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "jobs_submitted_total",
				Help:      "Verification jobs accepted per backend",
			},
			[]string{"backend"},
		),
		Completed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "jobs_completed_total",
				Help:      "Verification jobs resolved per backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		Faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "worker_faults_total",
				Help:      "Workers terminated by a backend fault",
			},
			[]string{"backend"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Jobs waiting for their backend worker",
			},
			[]string{"backend"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "backend_duration_seconds",
				Help:      "Time spent inside the backend per job",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"backend"},
		),
	}
}

// outcome labels
const (
	outcomeVerified = "verified"
	outcomeFailed   = "failed"
	outcomeCached   = "cached"
	outcomeFault    = "fault"
	outcomeCanceled = "canceled"
)
