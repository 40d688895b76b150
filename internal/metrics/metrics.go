package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CriteriaDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sift_criteria_decode_total",
		Help: "Criteria blob decodes by outcome (ok, empty, malformed, unknown).",
	}, []string{"result"})

	CountQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sift_count_queries_total",
		Help: "Count queries issued against the task store for filter previews.",
	})

	CountQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sift_count_query_seconds",
		Help:    "Latency of a single filter count query.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	StaleCountPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sift_stale_count_passes_total",
		Help: "Draft recount passes discarded because the draft changed meanwhile.",
	})
)

// ObserveDecode is a criterion.Codec OnDecode hook.
func ObserveDecode(result string) {
	CriteriaDecodes.WithLabelValues(result).Inc()
}
