package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roldanp/tenderwatch/internal/audit"
	"github.com/roldanp/tenderwatch/internal/metrics"
	"github.com/roldanp/tenderwatch/internal/storage"
)

// WorkStore abstracts the queue operations the worker needs.
type WorkStore interface {
	PendingWork(limit int) ([]storage.WorkItem, error)
	CompleteWork(tenderID int64, extKey string) error
	QueueDepth() (int, error)
}

// Recomputer is the evaluator surface the worker drives.
type Recomputer interface {
	ComputeGapFlag(tenderID int64, ac audit.Context) error
}

// Worker drains the recompute queue. Items are deleted only after
// processing, so delivery is at-least-once; recomputation reads current
// keymap and calendar state at drain time and is idempotent, so duplicate
// processing is harmless.
type Worker struct {
	store  WorkStore
	eval   Recomputer
	actor  audit.Context
	poll   time.Duration
	batch  int
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store WorkStore, eval Recomputer, actor audit.Context, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		eval:   eval,
		actor:  actor,
		poll:   pollInterval,
		batch:  32,
		logger: slog.Default(),
	}
}

// Run polls for work until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce()
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce drains one batch of pending items and returns how many were
// processed. A failing item is left in the queue for the next pass; the rest
// of the batch still runs.
func (w *Worker) RunOnce() (int, error) {
	items, err := w.store.PendingWork(w.batch)
	if err != nil {
		return 0, fmt.Errorf("listing pending work: %w", err)
	}

	processed := 0
	for _, it := range items {
		if err := w.eval.ComputeGapFlag(it.TenderID, w.actor); err != nil {
			w.logger.Warn("recomputation failed, item kept for retry",
				"tender_id", it.TenderID, "ext_key", it.ExtKey, "error", err)
			continue
		}
		metrics.Recomputations.WithLabelValues("queue").Inc()
		if err := w.store.CompleteWork(it.TenderID, it.ExtKey); err != nil {
			return processed, fmt.Errorf("completing work for tender %d: %w", it.TenderID, err)
		}
		processed++
	}

	if depth, err := w.store.QueueDepth(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return processed, nil
}
