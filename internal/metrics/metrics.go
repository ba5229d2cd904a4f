package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexing and search Prometheus metrics.
var (
	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchsync",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents submitted to the index, by outcome",
		},
		[]string{"type", "status"},
	)

	DocumentsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchsync",
			Name:      "documents_deleted_total",
			Help:      "Total number of index deletions, by outcome",
		},
		[]string{"status"},
	)

	DeleteQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "searchsync",
			Name:      "delete_queue_depth",
			Help:      "Number of items waiting in the delete queue",
		},
	)

	SearchRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "searchsync",
			Name:      "search_request_duration_seconds",
			Help:      "Search engine round-trip duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	ReconciliationDeletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchsync",
			Name:      "reconciliation_deletions_total",
			Help:      "Orphaned documents scheduled for deletion by the daily scan",
		},
	)

	ReconciliationReindexTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchsync",
			Name:      "reconciliation_reindex_total",
			Help:      "Entities re-marked for indexing by the daily scan",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DocumentsIndexedTotal,
		DocumentsDeletedTotal,
		DeleteQueueDepth,
		SearchRequestDuration,
		ReconciliationDeletionsTotal,
		ReconciliationReindexTotal,
	)
}
