package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Push metrics
	EntriesApplied  prometheus.Counter
	EntriesRejected *prometheus.CounterVec
	PushDuration    prometheus.Histogram
	PushBatchSize   prometheus.Histogram
	CommitRetries   prometheus.Counter

	// Delete metrics
	EntriesReverted prometheus.Counter
	DeleteDuration  prometheus.Histogram

	// Storage metrics
	StorageOps        *prometheus.CounterVec
	StorageOpDuration *prometheus.HistogramVec
	StorageErrors     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		EntriesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvledger_entries_applied_total",
			Help: "Total number of ledger entries applied",
		}),
		EntriesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvledger_entries_rejected_total",
				Help: "Total number of ledger entries rejected by reason",
			},
			[]string{"reason"},
		),
		PushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvledger_push_duration_seconds",
			Help:    "Duration of push operations",
			Buckets: prometheus.DefBuckets,
		}),
		PushBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvledger_push_batch_size",
			Help:    "Number of entries per push request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		CommitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvledger_commit_retries_total",
			Help: "Total number of optimistic-lock commit retries",
		}),

		EntriesReverted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvledger_entries_reverted_total",
			Help: "Total number of ledger entries reverted",
		}),
		DeleteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvledger_delete_duration_seconds",
			Help:    "Duration of delete operations",
			Buckets: prometheus.DefBuckets,
		}),

		StorageOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvledger_storage_ops_total",
				Help: "Total storage operations by backend and op",
			},
			[]string{"backend", "op"},
		),
		StorageOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvledger_storage_op_duration_seconds",
				Help:    "Storage operation duration by backend and op",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"backend", "op"},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvledger_storage_errors_total",
				Help: "Total storage errors by backend and op",
			},
			[]string{"backend", "op"},
		),
	}
}

// ObserveStorageOp records one storage call. It satisfies the store
// instrumentation hook in the kv adapter.
func (m *Metrics) ObserveStorageOp(backend, op string, duration time.Duration, err error) {
	m.StorageOps.WithLabelValues(backend, op).Inc()
	m.StorageOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(backend, op).Inc()
	}
}
