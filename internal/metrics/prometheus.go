package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcome labels for RecordsTotal.
const (
	OutcomeSent       = "sent"
	OutcomeRejected   = "rejected"
	OutcomeDuplicate  = "duplicate"
	OutcomeLockError  = "lock_error"
	OutcomeSendFailed = "send_failed"
	OutcomePanic      = "panic"
	OutcomeCanceled   = "canceled"
)

// Dispatch metrics
var (
	BatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_batches_total",
			Help: "Total number of batches processed",
		},
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_records_total",
			Help: "Total number of queue records processed by outcome",
		},
		[]string{"outcome"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Duration of mail provider send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	SendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_send_errors_total",
			Help: "Total number of mail provider errors by classification",
		},
		[]string{"transport", "class"}, // permanent, transient
	)
)

// Region metrics
var (
	RegionFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_region_fallback_total",
			Help: "Total number of region lookups that fell back to the default region",
		},
		[]string{"reason"}, // empty_service, not_found, store_error
	)

	RegionCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_region_cache_hits_total",
			Help: "Total number of region lookups served from cache",
		},
	)
)

// Lock metrics
var (
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_lock_acquire_total",
			Help: "Total number of dispatch lock acquisition attempts by outcome",
		},
		[]string{"backend", "outcome"},
	)

	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_lock_release_total",
			Help: "Total number of dispatch locks released after a failed send",
		},
		[]string{"backend", "result"}, // ok, error
	)
)
