package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "resume_cache_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"path", "method", "status"},
	)

	// CacheLookups tracks eviction-managed reads by result (hit, miss, expired)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_cache_lookups_total",
			Help: "Number of cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictions tracks removed entries by reason (lru, expired)
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_cache_evictions_total",
			Help: "Number of cache entries evicted",
		},
		[]string{"reason"},
	)

	// CacheSizeBytes is the accounted size of all cache-managed entries
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resume_cache_size_bytes",
			Help: "Accounted size of cache-managed entries",
		},
	)

	// CacheItems is the number of cache-managed entries
	CacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resume_cache_items",
			Help: "Number of cache-managed entries",
		},
	)

	// SyncOperations tracks applied queue items by outcome
	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_cache_sync_operations_total",
			Help: "Number of sync queue items processed by outcome",
		},
		[]string{"entity", "outcome"},
	)

	// SyncQueueDepth is the live queue length
	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resume_cache_sync_queue_depth",
			Help: "Number of mutations waiting to be synced",
		},
	)

	// SyncFailedItems is the failed log length
	SyncFailedItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resume_cache_sync_failed_items",
			Help: "Number of mutations in the failed log",
		},
	)

	// ConnectivityOnline is 1 while the remote is reachable
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resume_cache_connectivity_online",
			Help: "Whether the sync remote is reachable (1 = online)",
		},
	)
)

// Sync outcomes
const (
	SyncSuccess   = "success"
	SyncFailure   = "failure"
	SyncFailedLog = "failed_log"
	SyncConflict  = "conflict"
)
