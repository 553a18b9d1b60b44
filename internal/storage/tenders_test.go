package storage

import (
	"errors"
	"testing"
	"time"
)

func TestCreateTenderSeedsKeymap(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateTender(Tender{Entity: "Alcaldía de Pasto", Reference: " LP-001-2024 "})
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected non-zero tender id")
	}

	key, err := s.ResolveExternalKey(created.ID)
	if err != nil {
		t.Fatalf("ResolveExternalKey: %v", err)
	}
	if key != "LP-001-2024" {
		t.Errorf("seeded key = %q, want trimmed %q", key, "LP-001-2024")
	}
}

func TestCreateTenderEmptyReferenceSkipsSeed(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateTender(Tender{Entity: "Gobernación", Reference: "   "})
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}

	_, err = s.ResolveExternalKey(created.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveExternalKey error = %v, want ErrNotFound", err)
	}
}

func TestKeymapFirstWriterWins(t *testing.T) {
	s := openTestStore(t)

	first, err := s.CreateTender(Tender{Entity: "A", Reference: "SHARED-KEY"})
	if err != nil {
		t.Fatalf("first CreateTender: %v", err)
	}
	second, err := s.CreateTender(Tender{Entity: "B", Reference: "SHARED-KEY"})
	if err != nil {
		t.Fatalf("second CreateTender should not surface the conflict: %v", err)
	}

	ids, err := s.ResolveTenderIDs("SHARED-KEY")
	if err != nil {
		t.Fatalf("ResolveTenderIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != first.ID {
		t.Errorf("ResolveTenderIDs = %v, want [%d]", ids, first.ID)
	}

	if _, err := s.ResolveExternalKey(second.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("loser of the seed race should have no mapping, got err=%v", err)
	}
}

func TestSeedKeymapIdempotent(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateTender(Tender{Entity: "A"})
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.SeedKeymap(created.ID, "K-9"); err != nil {
			t.Fatalf("SeedKeymap pass %d: %v", i, err)
		}
	}

	ids, err := s.ResolveTenderIDs("K-9")
	if err != nil {
		t.Fatalf("ResolveTenderIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("mapping count = %d, want 1", len(ids))
	}
}

func TestGetTenderRoundTrip(t *testing.T) {
	s := openTestStore(t)

	pub := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	in := Tender{
		Entity:        "Ministerio de Transporte",
		Subject:       "Mantenimiento vial",
		Amount:        1250000000,
		Modality:      "licitación pública",
		Reference:     "LP-22",
		Status:        "published",
		PublishedOn:   &pub,
		Location:      "Nariño",
		Sector:        "infraestructura",
		Link:          "https://example.gov/lp-22",
		SourcePortal:  "secop2",
		IndexedText:   "mantenimiento de la vía",
		EmbeddingText: "[0.1,0.2]",
	}
	created, err := s.CreateTender(in)
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}

	got, err := s.GetTender(created.ID)
	if err != nil {
		t.Fatalf("GetTender: %v", err)
	}
	if got.Entity != in.Entity || got.Subject != in.Subject || got.Amount != in.Amount ||
		got.Reference != in.Reference || got.EmbeddingText != in.EmbeddingText {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if got.PublishedOn == nil || !got.PublishedOn.Equal(pub) {
		t.Errorf("PublishedOn = %v, want %v", got.PublishedOn, pub)
	}
}

func TestSearchTenders(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateTender(Tender{Entity: "Alcaldía de Pasto", Subject: "vías"}); err != nil {
		t.Fatalf("CreateTender: %v", err)
	}
	if _, err := s.CreateTender(Tender{Entity: "Hospital San Pedro", IndexedText: "dotación de equipos"}); err != nil {
		t.Fatalf("CreateTender: %v", err)
	}

	hits, err := s.SearchTenders("pasto", 10)
	if err != nil {
		t.Fatalf("SearchTenders: %v", err)
	}
	if len(hits) != 1 || hits[0].Entity != "Alcaldía de Pasto" {
		t.Errorf("entity search hits = %+v", hits)
	}

	hits, err = s.SearchTenders("equipos", 10)
	if err != nil {
		t.Fatalf("SearchTenders: %v", err)
	}
	if len(hits) != 1 || hits[0].Entity != "Hospital San Pedro" {
		t.Errorf("indexed text search hits = %+v", hits)
	}
}
