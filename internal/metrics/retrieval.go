package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Tag engine Prometheus metrics.
var (
	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total tag retrieval requests by mode",
		},
		[]string{"mode"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Tag retrieval duration in seconds by mode",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// RegionsDroppedTotal counts segmenter chunks that could not be anchored in the source text.
	RegionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_dropped_total",
			Help:      "Regions discarded because their chunk was not found in the source",
		},
	)

	TagsLearnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tags_learned_total",
			Help:      "Total tags learned or relearned",
		},
	)

	SynonymPointsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synonym_points_written_total",
			Help:      "Total synonym points written to the vector index",
		},
	)
)

var registerTagging sync.Once

// RegisterTaggingMetrics registers retrieval and learning metrics with the default registry.
func RegisterTaggingMetrics() {
	registerTagging.Do(func() {
		prometheus.MustRegister(
			RetrievalRequestsTotal,
			RetrievalDuration,
			RegionsDroppedTotal,
			TagsLearnedTotal,
			SynonymPointsWrittenTotal,
		)
	})
}
