// Package metrics holds the Prometheus collectors for the queue, retry and launch paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for the application.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Process path.

// AdmissionDeniedTotal counts process calls that found the calling window closed.
var AdmissionDeniedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "queue",
	Name:      "admission_denied_total",
	Help:      "Process calls skipped because the calling window was closed",
})

// ClaimedEntries tracks how many entries each claim returned.
var ClaimedEntries = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "outbound",
	Subsystem: "queue",
	Name:      "claimed_entries",
	Help:      "Entries returned per claim",
	Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
})

// DispatchTotal counts dispatch outcomes by result and error kind.
var DispatchTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "dispatch",
	Name:      "total",
	Help:      "Dispatch attempts by outcome",
}, []string{"outcome", "kind"})

// ReleasedTotal counts claimed entries handed back to pending without a dispatch.
var ReleasedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "queue",
	Name:      "released_total",
	Help:      "Claimed entries returned to pending before dispatch",
}, []string{"reason"})

// DispatchDurationSeconds tracks dispatch latency.
var DispatchDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "outbound",
	Subsystem: "dispatch",
	Name:      "duration_seconds",
	Help:      "Time spent waiting on the call dispatcher",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// ProcessDurationSeconds tracks end-to-end duration of one process call.
var ProcessDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "outbound",
	Subsystem: "queue",
	Name:      "process_duration_seconds",
	Help:      "Duration of one claim-and-dispatch cycle",
	Buckets:   prometheus.DefBuckets,
})

// EntriesByStatus mirrors the store's per-status counts.
var EntriesByStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "outbound",
	Subsystem: "queue",
	Name:      "entries",
	Help:      "Queue entries by status",
}, []string{"status"})

// Retry path.

// RetryRescheduledTotal counts failed entries moved back to pending.
var RetryRescheduledTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "retry",
	Name:      "rescheduled_total",
	Help:      "Failed entries rescheduled for another attempt",
})

// RetryAbandoned tracks failed entries that exhausted their attempts.
var RetryAbandoned = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "outbound",
	Subsystem: "retry",
	Name:      "abandoned",
	Help:      "Failed entries at or above the attempt limit",
})

// StaleClaimsReleasedTotal counts processing entries failed after their claim expired.
var StaleClaimsReleasedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "retry",
	Name:      "stale_claims_released_total",
	Help:      "Processing entries released after the claim TTL",
})

// Launch path.

// ScheduledTotal counts entries enqueued by launches and bulk scheduling.
var ScheduledTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "schedule",
	Name:      "entries_total",
	Help:      "Entries enqueued by source",
}, []string{"source"})

// SkippedTotal counts contacts skipped while scheduling by reason.
var SkippedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outbound",
	Subsystem: "schedule",
	Name:      "skipped_total",
	Help:      "Contacts skipped while scheduling by reason",
}, []string{"reason"})

// ObserveCounts copies a status snapshot into EntriesByStatus.
func ObserveCounts(counts map[string]int64) {
	for status, n := range counts {
		EntriesByStatus.WithLabelValues(status).Set(float64(n))
	}
}
