package storage

import "fmt"

// AddHolidays inserts ISO dates (YYYY-MM-DD) into the holidays reference
// table, ignoring duplicates.
func (s *Store) AddHolidays(days ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning holidays transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range days {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO holidays (day) VALUES (?)`, d); err != nil {
			return fmt.Errorf("inserting holiday %q: %w", d, err)
		}
	}
	return tx.Commit()
}

// ListHolidays returns all holiday dates as ISO strings.
func (s *Store) ListHolidays() ([]string, error) {
	rows, err := s.db.Query(`SELECT day FROM holidays ORDER BY day ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying holidays: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
