package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks records served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intel_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	// CacheMisses tracks lookups that had to call the service
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intel_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
