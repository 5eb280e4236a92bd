// Package metrics exposes Prometheus counters for ingestion, shard writing
// and consolidation. Collectors are registered with the default registry and
// served on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uuidvault"

// Ingest outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeForbidden     = "forbidden"
	OutcomeInvalid       = "invalid"
	OutcomeEnqueueFailed = "enqueue_failed"
)

// Consolidation run results.
const (
	ResultMerged  = "merged"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var IngestRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "requests_total",
		Help:      "Ingestion requests by transport and outcome.",
	},
	[]string{"transport", "outcome"},
)

var ConsumerRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "records_total",
		Help:      "Delivered records, split into valid and dropped.",
	},
	[]string{"outcome"},
)

var ShardWrites = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "shard_writes_total",
		Help:      "Shard writes by result.",
	},
	[]string{"result"},
)

var QueueRedeliveries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "redeliveries_total",
		Help:      "Batches handed back to a handler after a failed attempt.",
	},
)

var ConsolidationRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consolidation",
		Name:      "runs_total",
		Help:      "Consolidation invocations by trigger and result.",
	},
	[]string{"trigger", "result"},
)

var ConsolidationRows = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consolidation",
		Name:      "rows_total",
		Help:      "Rows seen while merging, by kind: written, duplicate, invalid.",
	},
	[]string{"kind"},
)

var ConsolidationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "consolidation",
		Name:      "run_duration_seconds",
		Help:      "Wall time of consolidation invocations that ran.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	},
)

func init() {
	prometheus.MustRegister(IngestRequests)
	prometheus.MustRegister(ConsumerRecords)
	prometheus.MustRegister(ShardWrites)
	prometheus.MustRegister(QueueRedeliveries)
	prometheus.MustRegister(ConsolidationRuns)
	prometheus.MustRegister(ConsolidationRows)
	prometheus.MustRegister(ConsolidationDuration)
}

// Ingest counts one ingestion request.
func Ingest(transport, outcome string) {
	IngestRequests.WithLabelValues(transport, outcome).Inc()
}

// Consumed counts the records of one delivered batch.
func Consumed(valid, dropped int) {
	ConsumerRecords.WithLabelValues("valid").Add(float64(valid))
	ConsumerRecords.WithLabelValues("dropped").Add(float64(dropped))
}

// ShardWritten counts one shard write attempt.
func ShardWritten(err error) {
	if err != nil {
		ShardWrites.WithLabelValues("failed").Inc()
		return
	}
	ShardWrites.WithLabelValues("ok").Inc()
}

// ConsolidationRun records the outcome of one invocation.
func ConsolidationRun(trigger, result string, elapsed time.Duration, written, duplicates, invalid int) {
	ConsolidationRuns.WithLabelValues(trigger, result).Inc()
	if result == ResultSkipped {
		return
	}
	ConsolidationDuration.Observe(elapsed.Seconds())
	ConsolidationRows.WithLabelValues("written").Add(float64(written))
	ConsolidationRows.WithLabelValues("duplicate").Add(float64(duplicates))
	ConsolidationRows.WithLabelValues("invalid").Add(float64(invalid))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
