// Package metrics registers the Prometheus collectors for the ledger and
// activity pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guildledger"

// ─── Ledger ─────────────────────────────────────────────────────────────────

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Total ledger operations by kind and outcome.",
}, []string{"operation", "outcome"})

var LedgerInsufficientFunds = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "insufficient_funds_total",
	Help:      "Total debits rejected for insufficient funds.",
})

var LedgerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operation_duration_seconds",
	Help:      "Ledger operation latency including lock waits and retries.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
}, []string{"operation"})

// ─── Balance cache ──────────────────────────────────────────────────────────

var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "balance_cache",
	Name:      "lookups_total",
	Help:      "Balance cache lookups by result (hit or miss).",
}, []string{"result"})

var CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "balance_cache",
	Name:      "evictions_total",
	Help:      "Expired balance entries removed by the sweeper.",
})

// ─── Ingest ─────────────────────────────────────────────────────────────────

var IngestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "events_total",
	Help:      "Activity events by signal and outcome.",
}, []string{"signal", "outcome"})

// ─── Flush ──────────────────────────────────────────────────────────────────

var FlushCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "flush",
	Name:      "cycles_total",
	Help:      "Completed flush cycles by signal.",
}, []string{"signal"})

var FlushScopes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "flush",
	Name:      "scopes_total",
	Help:      "Scopes flushed by signal and outcome.",
}, []string{"signal", "outcome"})

var FlushReinjections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "flush",
	Name:      "reinjections_total",
	Help:      "Drained counters written back after a failed commit.",
}, []string{"signal"})

var FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "flush",
	Name:      "cycle_duration_seconds",
	Help:      "Duration of a full flush cycle.",
	Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"signal"})

var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "activity",
	Name:      "level_ups_total",
	Help:      "Total level-ups applied by flushes.",
})

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)
