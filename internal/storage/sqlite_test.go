package storage

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the derivation-critical indexes are created.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_tenders_entity", "idx_tenders_status", "idx_tenders_published_on",
		"idx_tender_flags_tender", "idx_flag_audit_flag", "idx_flag_audit_at",
		"idx_tender_chunks_tender",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestUniqueConstraints verifies the unique keys all upsert paths rely on.
func TestUniqueConstraints(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO tenders (entity) VALUES ('A'), ('B')`); err != nil {
		t.Fatalf("seeding tenders: %v", err)
	}

	if _, err := s.db.Exec(`INSERT INTO tender_keymap (tender_id, ext_key) VALUES (1, 'X1')`); err != nil {
		t.Fatalf("seeding keymap: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO tender_keymap (tender_id, ext_key) VALUES (2, 'X1')`); err == nil {
		t.Error("duplicate ext_key accepted")
	}

	if _, err := s.db.Exec(`INSERT INTO rules (code, name) VALUES ('R1', 'rule')`); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO rules (code, name) VALUES ('R1', 'other')`); err == nil {
		t.Error("duplicate rule code accepted")
	}

	if _, err := s.db.Exec(`INSERT INTO tender_flags (tender_id, rule_id, value, detected_at) VALUES (1, 1, 1, '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seeding flag: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO tender_flags (tender_id, rule_id, value, detected_at) VALUES (1, 1, 0, '2024-01-02T00:00:00Z')`); err == nil {
		t.Error("duplicate (tender, rule) flag accepted")
	}
}
