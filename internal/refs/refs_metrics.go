package refs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for reference resolution.
type Metrics struct {
	MentionsTotal  *prometheus.CounterVec
	LookupsTotal   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns reference metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MentionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_reference_mentions_total",
			Help: "Record references extracted from narratives by provenance.",
		}, []string{"provenance"}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchpost_reference_lookups_total",
			Help: "Record lookups by kind and outcome.",
		}, []string{"kind", "outcome"}),
		LookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchpost_reference_lookup_duration_seconds",
			Help:    "Duration of record lookups in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.MentionsTotal,
		m.LookupsTotal,
		m.LookupDuration,
	)

	return m
}

// Hooks returns resolver Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnExtract: func(created, mentioned int) {
			m.MentionsTotal.WithLabelValues(string(ProvenanceCreated)).Add(float64(created))
			m.MentionsTotal.WithLabelValues(string(ProvenanceMentioned)).Add(float64(mentioned))
		},
		OnLookup: func(kind Kind, outcome string, duration float64) {
			m.LookupsTotal.WithLabelValues(string(kind), outcome).Inc()
			m.LookupDuration.WithLabelValues(string(kind)).Observe(duration)
		},
	}
}
