package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertCalendarFact inserts or overwrites the staging row for an external
// key, moving updated_at on every write. The returned bool reports whether a
// timestamp relevant to flag derivation (acceptance or opening) changed: true
// for new rows, false for updates that only touched other columns, so callers
// can skip dispatching recomputation for irrelevant writes.
func (s *Store) UpsertCalendarFact(f CalendarFact) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning calendar transaction: %w", err)
	}
	defer tx.Rollback()

	var oldAcceptance, oldOpening sql.NullString
	relevant := true
	err = tx.QueryRow(`SELECT acceptance_at, opening_at FROM calendar_facts WHERE ext_key = ?`, f.ExtKey).
		Scan(&oldAcceptance, &oldOpening)
	switch {
	case err == sql.ErrNoRows:
		// Insert: always relevant.
	case err != nil:
		return false, fmt.Errorf("reading calendar fact %q: %w", f.ExtKey, err)
	default:
		relevant = nullableTS(oldAcceptance) != formatNullableTS(f.AcceptanceAt) ||
			nullableTS(oldOpening) != formatNullableTS(f.OpeningAt)
	}

	updatedAt := f.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO calendar_facts (ext_key, acceptance_at, opening_at, published_at, submission_at, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ext_key) DO UPDATE SET
			acceptance_at = excluded.acceptance_at,
			opening_at = excluded.opening_at,
			published_at = excluded.published_at,
			submission_at = excluded.submission_at,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		f.ExtKey, tsArg(f.AcceptanceAt), tsArg(f.OpeningAt), tsArg(f.PublishedAt), tsArg(f.SubmissionAt),
		f.Source, updatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("upserting calendar fact %q: %w", f.ExtKey, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing calendar fact %q: %w", f.ExtKey, err)
	}
	return relevant, nil
}

// GetCalendarFact returns the staging row for an external key, or ErrNotFound.
func (s *Store) GetCalendarFact(extKey string) (CalendarFact, error) {
	var f CalendarFact
	var acceptance, opening, published, submission sql.NullString
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT ext_key, acceptance_at, opening_at, published_at, submission_at, source, updated_at
		FROM calendar_facts WHERE ext_key = ?`, extKey,
	).Scan(&f.ExtKey, &acceptance, &opening, &published, &submission, &f.Source, &updatedAt)
	if err == sql.ErrNoRows {
		return CalendarFact{}, ErrNotFound
	}
	if err != nil {
		return CalendarFact{}, fmt.Errorf("reading calendar fact %q: %w", extKey, err)
	}

	if f.AcceptanceAt, err = parseNullableTS(acceptance); err != nil {
		return CalendarFact{}, fmt.Errorf("parsing acceptance_at for %q: %w", extKey, err)
	}
	if f.OpeningAt, err = parseNullableTS(opening); err != nil {
		return CalendarFact{}, fmt.Errorf("parsing opening_at for %q: %w", extKey, err)
	}
	if f.PublishedAt, err = parseNullableTS(published); err != nil {
		return CalendarFact{}, fmt.Errorf("parsing published_at for %q: %w", extKey, err)
	}
	if f.SubmissionAt, err = parseNullableTS(submission); err != nil {
		return CalendarFact{}, fmt.Errorf("parsing submission_at for %q: %w", extKey, err)
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return CalendarFact{}, fmt.Errorf("parsing updated_at for %q: %w", extKey, err)
	}
	return f, nil
}

func tsArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func formatNullableTS(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func nullableTS(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func parseNullableTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
