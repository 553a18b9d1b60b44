package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

const tenderColumns = `id, entity, subject, amount, modality, reference, status,
	published_on, location, sector, link, source_portal, indexed_text, embedding_text`

// CreateTender inserts a tender and, when its reference number is non-empty
// after trimming, seeds the keymap with it. The seed uses INSERT OR IGNORE so
// a reference already claimed by another tender wins silently (first writer
// wins). Both writes happen in one transaction.
func (s *Store) CreateTender(t Tender) (Tender, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Tender{}, fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	var publishedOn interface{}
	if t.PublishedOn != nil {
		publishedOn = t.PublishedOn.Format(dateLayout)
	}

	res, err := tx.Exec(`
		INSERT INTO tenders (entity, subject, amount, modality, reference, status,
			published_on, location, sector, link, source_portal, indexed_text, embedding_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Entity, t.Subject, t.Amount, t.Modality, t.Reference, t.Status,
		publishedOn, t.Location, t.Sector, t.Link, t.SourcePortal, t.IndexedText, t.EmbeddingText,
	)
	if err != nil {
		return Tender{}, fmt.Errorf("inserting tender: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tender{}, fmt.Errorf("reading tender id: %w", err)
	}
	t.ID = id

	if ref := strings.TrimSpace(t.Reference); ref != "" {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tender_keymap (tender_id, ext_key) VALUES (?, ?)`, id, ref); err != nil {
			return Tender{}, fmt.Errorf("seeding keymap for tender %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Tender{}, fmt.Errorf("committing tender %d: %w", id, err)
	}
	return t, nil
}

// GetTender returns one tender by ID.
func (s *Store) GetTender(id int64) (Tender, error) {
	row := s.db.QueryRow(`SELECT `+tenderColumns+` FROM tenders WHERE id = ?`, id)
	t, err := scanTender(row)
	if err == sql.ErrNoRows {
		return Tender{}, ErrNotFound
	}
	return t, err
}

// SearchTenders does a plain substring search over entity, subject and
// indexed text, most recently published first.
func (s *Store) SearchTenders(q string, limit int) ([]Tender, error) {
	pattern := "%" + q + "%"
	rows, err := s.db.Query(`
		SELECT `+tenderColumns+` FROM tenders
		WHERE entity LIKE ? OR subject LIKE ? OR indexed_text LIKE ?
		ORDER BY COALESCE(published_on, date('now')) DESC
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tenders: %w", err)
	}
	defer rows.Close()

	var results []Tender
	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// ComparableTenders returns the headers of tenders sharing the target's
// modality and sector (each filter applies only when the target has the
// attribute), excluding the target itself. This is the candidate pool the
// price rule scores.
func (s *Store) ComparableTenders(excludeID int64, modality, sector string, limit int) ([]Comparable, error) {
	query := `SELECT id, modality, sector, status, amount FROM tenders WHERE id <> ?`
	args := []interface{}{excludeID}
	if modality != "" {
		query += ` AND modality = ?`
		args = append(args, modality)
	}
	if sector != "" {
		query += ` AND sector = ?`
		args = append(args, sector)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying comparable tenders: %w", err)
	}
	defer rows.Close()

	var out []Comparable
	for rows.Next() {
		var c Comparable
		if err := rows.Scan(&c.ID, &c.Modality, &c.Sector, &c.Status, &c.Amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTenderIDs returns tender IDs in ascending order, used by batch
// recomputation runs. limit <= 0 means no limit.
func (s *Store) ListTenderIDs(limit int) ([]int64, error) {
	query := `SELECT id FROM tenders ORDER BY id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tender ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTender(r rowScanner) (Tender, error) {
	var t Tender
	var publishedOn sql.NullString
	err := r.Scan(&t.ID, &t.Entity, &t.Subject, &t.Amount, &t.Modality, &t.Reference, &t.Status,
		&publishedOn, &t.Location, &t.Sector, &t.Link, &t.SourcePortal, &t.IndexedText, &t.EmbeddingText)
	if err != nil {
		return Tender{}, err
	}
	if publishedOn.Valid && publishedOn.String != "" {
		d, err := time.Parse(dateLayout, publishedOn.String)
		if err != nil {
			return Tender{}, fmt.Errorf("parsing published_on for tender %d: %w", t.ID, err)
		}
		t.PublishedOn = &d
	}
	return t, nil
}
