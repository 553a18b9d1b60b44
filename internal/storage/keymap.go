package storage

import (
	"database/sql"
	"fmt"
)

// SeedKeymap links a tender to an external document key. INSERT OR IGNORE:
// if the key is already claimed, or the tender already mapped, the existing
// mapping stands and no error is surfaced.
func (s *Store) SeedKeymap(tenderID int64, extKey string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO tender_keymap (tender_id, ext_key) VALUES (?, ?)`, tenderID, extKey)
	if err != nil {
		return fmt.Errorf("seeding keymap for tender %d: %w", tenderID, err)
	}
	return nil
}

// ResolveExternalKey returns the external document key mapped to a tender,
// or ErrNotFound when the tender has no mapping yet.
func (s *Store) ResolveExternalKey(tenderID int64) (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT ext_key FROM tender_keymap WHERE tender_id = ?`, tenderID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving external key for tender %d: %w", tenderID, err)
	}
	return key, nil
}

// ResolveTenderIDs returns the tenders currently mapped to an external key.
// The keymap is one-to-one so this yields zero or one IDs today; the slice
// shape is the contract the dispatcher relies on.
func (s *Store) ResolveTenderIDs(extKey string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT tender_id FROM tender_keymap WHERE ext_key = ?`, extKey)
	if err != nil {
		return nil, fmt.Errorf("resolving tenders for key %q: %w", extKey, err)
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
