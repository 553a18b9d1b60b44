// Package metrics exposes Prometheus instrumentation for the recomputation
// pipeline, the work queue and the embedding backfill.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Recomputations counts evaluator invocations by trigger
	// ("keymap", "calendar", "queue", "manual", "batch").
	Recomputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenderwatch_recomputations_total",
		Help: "Flag recomputations invoked, by trigger.",
	}, []string{"trigger"})

	// QueueDepth tracks pending recompute_queue items.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenderwatch_queue_depth",
		Help: "Pending items in the recompute queue.",
	})

	// Enqueued counts work items actually inserted (coalesced duplicates excluded
	// by the storage layer, so this can undercount raw write events).
	Enqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenderwatch_enqueued_total",
		Help: "Recompute work items enqueued.",
	})

	// BackfillRows counts rows seen by the vector backfill, by outcome
	// ("parsed", "skipped_malformed", "skipped_dimension").
	BackfillRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenderwatch_backfill_rows_total",
		Help: "Rows processed by the embedding backfill, by outcome.",
	}, []string{"outcome"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
