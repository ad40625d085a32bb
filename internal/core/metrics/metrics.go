// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchstats_cache_hits_total",
		Help: "Response cache hits by tier.",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchstats_cache_misses_total",
		Help: "Response cache misses, including lookups short-circuited while the store is down.",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchstats_cache_errors_total",
		Help: "Response cache store errors absorbed as misses, by operation.",
	}, []string{"op"})

	// CacheAvailable is 1 while the remote store is reachable, 0 otherwise.
	CacheAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchstats_cache_available",
		Help: "Whether the remote response cache is currently available.",
	})

	FallbackResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchstats_fallback_resolutions_total",
		Help: "Read resolutions by the stage that produced them.",
	}, []string{"source"})

	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchstats_rebuilds_total",
		Help: "Partition snapshot rebuilds by outcome.",
	}, []string{"outcome"})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchstats_rebuild_duration_seconds",
		Help:    "Wall time of successful partition snapshot rebuilds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchstats_batch_retries_total",
		Help: "Chunk re-executions after transient write errors.",
	})
)
