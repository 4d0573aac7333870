// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scrape orchestrator
	ScrapeJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_scrape_jobs_active",
			Help: "Scrape jobs currently holding a browsing context",
		},
	)

	ScrapeJobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_scrape_jobs_queued",
			Help: "Scrape jobs waiting for a free slot",
		},
	)

	ScrapeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbasket_scrape_jobs_total",
			Help: "Finished scrape jobs by outcome",
		},
		[]string{"marketplace", "outcome"}, // outcome: success, failed, offline, missing
	)

	ScrapeJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quickbasket_scrape_job_duration_seconds",
			Help:    "Wall time of a scrape job from slot acquisition to teardown",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60},
		},
		[]string{"marketplace"},
	)

	BrowsingContextsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_browsing_contexts_open",
			Help: "Browsing contexts opened and not yet torn down",
		},
	)

	// Sync reconciler
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbasket_sync_passes_total",
			Help: "Sync passes by outcome",
		},
		[]string{"outcome"}, // ok, failed, skipped_offline, coalesced
	)

	ScheduledAlarms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_scheduled_alarms",
			Help: "Per-item alarms recreated by the last sync pass",
		},
	)

	// Offline queue
	OfflineQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_offline_queue_size",
			Help: "Items waiting for connectivity",
		},
	)

	// Connectivity
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickbasket_online",
			Help: "1 when the engine considers itself online",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbasket_connectivity_transitions_total",
			Help: "Online/offline transitions",
		},
		[]string{"to"},
	)

	// Notifier
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbasket_notifications_total",
			Help: "Notifications by result",
		},
		[]string{"result"}, // shown, suppressed
	)

	// Catalog client
	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quickbasket_catalog_request_duration_seconds",
			Help:    "Catalog API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	CatalogCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickbasket_catalog_cache_total",
			Help: "Catalog GET cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quickbasket_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveCatalog records a catalog call.
func ObserveCatalog(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CatalogRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// SetOnline mirrors the connectivity flag into a gauge.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
