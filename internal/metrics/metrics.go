package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatmap_refresh_cycles_total",
			Help: "Completed acquisition cycles by the tier that produced the snapshot",
		},
		[]string{"origin"},
	)

	TierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatmap_tier_failures_total",
			Help: "Failed tier attempts",
		},
		[]string{"tier", "reason"},
	)

	TierFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatmap_tier_fetch_duration_seconds",
			Help:    "Time spent in one tier attempt",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tier"},
	)

	SnapshotRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatmap_snapshot_records",
			Help: "Records in the current snapshot",
		},
	)

	SnapshotDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatmap_snapshot_degraded",
			Help: "1 when the current snapshot did not come from the primary feed",
		},
	)

	SkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatmap_scheduler_ticks_skipped_total",
			Help: "Refresh ticks skipped because a cycle was still running",
		},
	)

	DiscardedCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatmap_scheduler_cycles_discarded_total",
			Help: "Cycles that completed after the scheduler stopped",
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatmap_api_cache_requests_total",
			Help: "API response cache lookups",
		},
		[]string{"result"},
	)
)
