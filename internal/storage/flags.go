package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roldanp/tenderwatch/internal/audit"
)

// EnsureRule creates the catalog entry for a rule code if absent and returns
// it. The insert is a single atomic conditional write (OR IGNORE on the
// unique code), so concurrent creators converge on one row without a
// read-then-write race.
func (s *Store) EnsureRule(code, name, description string) (Rule, error) {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO rules (code, name, description) VALUES (?, ?, ?)`,
		code, name, description); err != nil {
		return Rule{}, fmt.Errorf("ensuring rule %q: %w", code, err)
	}

	var r Rule
	err := s.db.QueryRow(`SELECT id, code, name, description FROM rules WHERE code = ?`, code).
		Scan(&r.ID, &r.Code, &r.Name, &r.Description)
	if err != nil {
		return Rule{}, fmt.Errorf("reading rule %q: %w", code, err)
	}
	return r, nil
}

// ApplyFlagParams describes one evaluator write against a (tender, rule) pair.
type ApplyFlagParams struct {
	TenderID int64
	RuleID   int64
	Value    bool
	Evidence string
	Source   string
	At       time.Time
	Actor    string
}

// ApplyFlag upserts the flag assignment keyed by (tender, rule) and appends
// the matching audit entry in the same transaction. An existing assignment is
// overwritten unconditionally, value changed or not. If the audit insert
// fails the whole write is rolled back: an assignment change without its
// audit record is not an acceptable outcome.
func (s *Store) ApplyFlag(p ApplyFlagParams) (FlagAssignment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return FlagAssignment{}, fmt.Errorf("beginning flag transaction: %w", err)
	}
	defer tx.Rollback()

	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var existingID int64
	var existingValue bool
	err = tx.QueryRow(`SELECT id, value FROM tender_flags WHERE tender_id = ? AND rule_id = ?`,
		p.TenderID, p.RuleID).Scan(&existingID, &existingValue)

	var fa FlagAssignment
	var change string
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO tender_flags (tender_id, rule_id, value, detected_at, evidence, source)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.TenderID, p.RuleID, p.Value, at.Format(time.RFC3339), p.Evidence, p.Source)
		if err != nil {
			return FlagAssignment{}, fmt.Errorf("inserting flag for tender %d: %w", p.TenderID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return FlagAssignment{}, fmt.Errorf("reading flag id: %w", err)
		}
		fa = FlagAssignment{ID: id, TenderID: p.TenderID, RuleID: p.RuleID, Value: p.Value,
			DetectedAt: at, Evidence: p.Evidence, Source: p.Source}
		change = audit.RenderTransition(audit.OpCreate, nil, p.Value, p.Evidence, p.Source)
	case err != nil:
		return FlagAssignment{}, fmt.Errorf("reading flag for tender %d: %w", p.TenderID, err)
	default:
		if _, err := tx.Exec(`
			UPDATE tender_flags SET value = ?, detected_at = ?, evidence = ?, source = ? WHERE id = ?`,
			p.Value, at.Format(time.RFC3339), p.Evidence, p.Source, existingID); err != nil {
			return FlagAssignment{}, fmt.Errorf("updating flag %d: %w", existingID, err)
		}
		fa = FlagAssignment{ID: existingID, TenderID: p.TenderID, RuleID: p.RuleID, Value: p.Value,
			DetectedAt: at, Evidence: p.Evidence, Source: p.Source}
		old := existingValue
		change = audit.RenderTransition(audit.OpUpdate, &old, p.Value, p.Evidence, p.Source)
	}

	if _, err := tx.Exec(`INSERT INTO flag_audit (tender_flag_id, change, at, actor) VALUES (?, ?, ?, ?)`,
		fa.ID, change, at.Format(time.RFC3339), p.Actor); err != nil {
		return FlagAssignment{}, fmt.Errorf("appending audit entry for flag %d: %w", fa.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return FlagAssignment{}, fmt.Errorf("committing flag for tender %d: %w", p.TenderID, err)
	}
	return fa, nil
}

// GetFlagAssignment returns the assignment for a (tender, rule) pair.
func (s *Store) GetFlagAssignment(tenderID, ruleID int64) (FlagAssignment, error) {
	var fa FlagAssignment
	var detectedAt string
	err := s.db.QueryRow(`
		SELECT id, tender_id, rule_id, value, detected_at, evidence, source
		FROM tender_flags WHERE tender_id = ? AND rule_id = ?`, tenderID, ruleID,
	).Scan(&fa.ID, &fa.TenderID, &fa.RuleID, &fa.Value, &detectedAt, &fa.Evidence, &fa.Source)
	if err == sql.ErrNoRows {
		return FlagAssignment{}, ErrNotFound
	}
	if err != nil {
		return FlagAssignment{}, fmt.Errorf("reading flag for tender %d: %w", tenderID, err)
	}
	if fa.DetectedAt, err = time.Parse(time.RFC3339, detectedAt); err != nil {
		return FlagAssignment{}, fmt.Errorf("parsing detected_at for flag %d: %w", fa.ID, err)
	}
	return fa, nil
}

// ListTenderFlags returns a tender's active flags joined with their rule
// catalog entries, most recently detected first. Assignments recording a
// false outcome stay in the table for audit but are not served.
func (s *Store) ListTenderFlags(tenderID int64) ([]FlagView, error) {
	rows, err := s.db.Query(`
		SELECT r.code, r.name, f.value, f.detected_at, f.evidence
		FROM tender_flags f JOIN rules r ON r.id = f.rule_id
		WHERE f.tender_id = ? AND f.value = 1
		ORDER BY f.detected_at DESC`, tenderID)
	if err != nil {
		return nil, fmt.Errorf("querying flags for tender %d: %w", tenderID, err)
	}
	defer rows.Close()

	var views []FlagView
	for rows.Next() {
		var v FlagView
		var detectedAt string
		if err := rows.Scan(&v.RuleCode, &v.RuleName, &v.Value, &detectedAt, &v.Evidence); err != nil {
			return nil, err
		}
		if v.DetectedAt, err = time.Parse(time.RFC3339, detectedAt); err != nil {
			return nil, fmt.Errorf("parsing detected_at: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// ListAuditEntries returns the audit trail for one flag assignment in append
// order.
func (s *Store) ListAuditEntries(flagID int64) ([]AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, tender_flag_id, change, at, actor
		FROM flag_audit WHERE tender_flag_id = ? ORDER BY id ASC`, flagID)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries for flag %d: %w", flagID, err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		if err := rows.Scan(&e.ID, &e.FlagID, &e.Change, &at, &e.Actor); err != nil {
			return nil, err
		}
		if e.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
