// Package flags derives boolean flag assignments from staged calendar facts.
// The rule set is fixed; each rule is an idempotent evaluation that upserts
// one (tender, rule) assignment and leaves an audit entry behind.
package flags

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roldanp/tenderwatch/internal/audit"
	"github.com/roldanp/tenderwatch/internal/busday"
	"github.com/roldanp/tenderwatch/internal/storage"
)

// Catalog identity of the acceptance/opening gap rule.
const (
	GapRuleCode = "F-GAP-OPEN"
	GapRuleName = "Gap between acceptance and opening of offers (business days)"
	GapRuleDesc = "Business-day gap between the acceptance of offers and the opening of offers. " +
		"Flags processes whose window is shorter than the configured threshold."

	// DefaultGapThreshold is the expected minimum window in business days.
	DefaultGapThreshold = 5

	gapSource = "pipe:gap_dates"
)

// Store is the storage surface the evaluator needs.
type Store interface {
	ResolveExternalKey(tenderID int64) (string, error)
	GetCalendarFact(extKey string) (storage.CalendarFact, error)
	EnsureRule(code, name, description string) (storage.Rule, error)
	ApplyFlag(p storage.ApplyFlagParams) (storage.FlagAssignment, error)
	ListHolidays() ([]string, error)
	GetTender(id int64) (storage.Tender, error)
	ChunkVectors(tenderID int64, limit int) ([][]float32, error)
	ChunkVectorsForTenders(ids []int64, perTender int) (map[int64][][]float32, error)
	ComparableTenders(excludeID int64, modality, sector string, limit int) ([]storage.Comparable, error)
}

// Evaluator computes flag assignments for single tenders. Safe to invoke
// repeatedly: each call is one atomic read-compute-upsert unit, and
// concurrent calls for the same pair converge via last write wins.
type Evaluator struct {
	store     Store
	threshold int
	logger    *slog.Logger
}

// NewEvaluator creates an Evaluator. threshold <= 0 falls back to
// DefaultGapThreshold.
func NewEvaluator(store Store, threshold int) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultGapThreshold
	}
	return &Evaluator{store: store, threshold: threshold, logger: slog.Default()}
}

// ComputeGapFlag evaluates the gap rule for one tender. Every missing-data
// branch (no keymap entry, no calendar fact, either date absent) is a silent
// no-op: the rule is defined only where full data exists, and a tender not
// yet fully staged is an expected quiescent state.
//
// When data is complete the assignment is overwritten unconditionally, and
// an audit entry is appended even if the value did not change, so the audit
// trail records every evaluation applied.
func (e *Evaluator) ComputeGapFlag(tenderID int64, ac audit.Context) error {
	extKey, err := e.store.ResolveExternalKey(tenderID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("gap flag skipped: no keymap entry", "tender_id", tenderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving external key: %w", err)
	}

	fact, err := e.store.GetCalendarFact(extKey)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("gap flag skipped: no calendar fact", "tender_id", tenderID, "ext_key", extKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading calendar fact: %w", err)
	}

	days, err := e.store.ListHolidays()
	if err != nil {
		return fmt.Errorf("loading holidays: %w", err)
	}

	gap, ok := busday.Between(fact.AcceptanceAt, fact.OpeningAt, busday.NewSet(days...))
	if !ok {
		e.logger.Debug("gap flag skipped: incomplete dates", "tender_id", tenderID, "ext_key", extKey)
		return nil
	}

	rule, err := e.store.EnsureRule(GapRuleCode, GapRuleName, GapRuleDesc)
	if err != nil {
		return err
	}

	value := gap < e.threshold
	evidence := fmt.Sprintf("gap: %d business days (acceptance: %s, opening: %s; document=%s); the rule expects at least %d business days",
		gap, fact.AcceptanceAt.Format("2006-01-02"), fact.OpeningAt.Format("2006-01-02"), extKey, e.threshold)

	_, err = e.store.ApplyFlag(storage.ApplyFlagParams{
		TenderID: tenderID,
		RuleID:   rule.ID,
		Value:    value,
		Evidence: evidence,
		Source:   gapSource,
		At:       ac.Timestamp(),
		Actor:    ac.Actor,
	})
	if err != nil {
		return fmt.Errorf("applying gap flag: %w", err)
	}

	e.logger.Info("gap flag computed", "tender_id", tenderID, "ext_key", extKey, "gap", gap, "value", value)
	return nil
}
