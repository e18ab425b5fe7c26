package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch processing.
var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_items_total",
		Help: "Total number of items with a terminal outcome",
	}, []string{"outcome"}) // "success", "failure", "cancelled"

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intel_batches_total",
		Help: "Total number of batches processed",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intel_batch_duration_seconds",
		Help:    "Wall-clock time to process one batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	batchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intel_batches_in_flight",
		Help: "Number of batches currently being processed",
	})
)
