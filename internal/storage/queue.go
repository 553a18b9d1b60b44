package storage

import (
	"fmt"
	"time"
)

// Enqueue adds a pending recomputation for a (tender, external key) pair.
// INSERT OR IGNORE on the pair's primary key: repeated writes while an item
// is still pending coalesce into the one existing item.
func (s *Store) Enqueue(tenderID int64, extKey string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO recompute_queue (tender_id, ext_key, created_at) VALUES (?, ?, ?)`,
		tenderID, extKey, at.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("enqueueing recomputation for tender %d: %w", tenderID, err)
	}
	return nil
}

// PendingWork returns up to limit queued items, oldest first.
func (s *Store) PendingWork(limit int) ([]WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT tender_id, ext_key, created_at FROM recompute_queue
		ORDER BY created_at ASC, tender_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending work: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var it WorkItem
		var createdAt string
		if err := rows.Scan(&it.TenderID, &it.ExtKey, &createdAt); err != nil {
			return nil, err
		}
		if it.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for tender %d: %w", it.TenderID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CompleteWork removes a processed item. Removing an item that was already
// removed (or re-coalesced and drained by another consumer) is not an error:
// recomputation is idempotent, so at-least-once delivery is safe.
func (s *Store) CompleteWork(tenderID int64, extKey string) error {
	_, err := s.db.Exec(`DELETE FROM recompute_queue WHERE tender_id = ? AND ext_key = ?`, tenderID, extKey)
	if err != nil {
		return fmt.Errorf("completing work for tender %d: %w", tenderID, err)
	}
	return nil
}

// QueueDepth returns the number of pending items.
func (s *Store) QueueDepth() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM recompute_queue`).Scan(&n)
	return n, err
}
