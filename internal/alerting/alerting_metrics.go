package alerting

import (
	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the alerting subsystem.
type Metrics struct {
	AlertsCreated      *prometheus.CounterVec
	MutationsTotal     *prometheus.CounterVec
	MutationDuration   *prometheus.HistogramVec
	LockWait           prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns alerting metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_alerts_created_total",
			Help: "Alerts raised by category.",
		}, []string{"category"}),
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_alert_mutations_total",
			Help: "Alert mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchpost_alert_mutation_duration_seconds",
			Help:    "Duration of alert mutations including lock wait, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchpost_alert_lock_wait_seconds",
			Help:    "Time spent waiting for the per-alert lock, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_notifications_total",
			Help: "Alert notifications by event and delivery status.",
		}, []string{"event", "status"}),
	}

	reg.MustRegister(
		m.AlertsCreated,
		m.MutationsTotal,
		m.MutationDuration,
		m.LockWait,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns service Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCreate: func(c alert.Category) {
			m.AlertsCreated.WithLabelValues(string(c)).Inc()
		},
		OnMutation: func(op, outcome string, duration float64) {
			m.MutationsTotal.WithLabelValues(op, outcome).Inc()
			m.MutationDuration.WithLabelValues(op).Observe(duration)
		},
		OnLockWait: func(duration float64) {
			m.LockWait.Observe(duration)
		},
		OnNotify: func(ev Event, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.NotificationsTotal.WithLabelValues(string(ev), status).Inc()
		},
	}
}
