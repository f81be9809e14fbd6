package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssetsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "assets_indexed_total",
		Help:      "Total number of assets processed by indexing runs",
	}, []string{"collection_id"})

	FacesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "faces_found_total",
		Help:      "Total number of face embeddings extracted",
	}, []string{"collection_id"})

	AssetsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "assets_skipped_total",
		Help:      "Total number of assets skipped during indexing",
	}, []string{"collection_id", "reason"})

	ExtractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "extract_duration_seconds",
		Help:      "Duration of face embedding extraction per asset",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	SearchesPerformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "searches_total",
		Help:      "Total number of face searches performed",
	})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "search_duration_seconds",
		Help:      "Duration of face searches including cache loads",
		Buckets:   prometheus.DefBuckets,
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "encoding_cache_hits_total",
		Help:      "Encoding cache lookups served from memory",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "encoding_cache_misses_total",
		Help:      "Encoding cache lookups that required a database load",
	})

	CachedVectors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefinder",
		Name:      "encoding_cache_vectors",
		Help:      "Number of vectors currently held in the encoding cache",
	})

	ActiveIndexingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefinder",
		Name:      "active_indexing_tasks",
		Help:      "Number of indexing tasks currently running",
	})
)
