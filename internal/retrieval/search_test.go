package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/roldanp/tenderwatch/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChunk(t *testing.T, s *storage.Store, tenderID int64, idx int, text string, vec []float32) {
	t.Helper()
	if err := s.UpsertChunk(storage.Chunk{TenderID: tenderID, Index: idx, Text: text}); err != nil {
		t.Fatalf("UpsertChunk: %v", err)
	}
	if vec != nil {
		_, err := s.DB().Exec(`UPDATE tender_chunks SET embedding = ? WHERE tender_id = ? AND chunk_idx = ?`,
			storage.EncodeVector(vec), tenderID, idx)
		if err != nil {
			t.Fatalf("setting embedding: %v", err)
		}
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	s := openTestStore(t)
	tender, err := s.CreateTender(storage.Tender{Entity: "e"})
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}

	seedChunk(t, s, tender.ID, 0, "aligned", []float32{1, 0, 0})
	seedChunk(t, s, tender.ID, 1, "diagonal", []float32{1, 1, 0})
	seedChunk(t, s, tender.ID, 2, "orthogonal", []float32{0, 0, 1})
	seedChunk(t, s, tender.ID, 3, "unembedded", nil)

	got, err := NewSearcher(s.DB(), 3).Search(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Text != "aligned" || got[1].Text != "diagonal" {
		t.Errorf("ranking = [%s %s], want [aligned diagonal]", got[0].Text, got[1].Text)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}
}

func TestSearchRejectsWrongDimensionality(t *testing.T) {
	s := openTestStore(t)
	_, err := NewSearcher(s.DB(), 3).Search(context.Background(), []float32{1, 0}, 5)
	if err == nil {
		t.Fatal("expected a dimensionality error")
	}
	if !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("error = %v, want dimensionality complaint", err)
	}
}

func TestSearchEmptyStoreAndZeroVector(t *testing.T) {
	s := openTestStore(t)
	searcher := NewSearcher(s.DB(), 3)

	got, err := searcher.Search(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty store: %v", err)
	}
	if got != nil {
		t.Errorf("empty store results = %v, want nil", got)
	}

	got, err = searcher.Search(context.Background(), []float32{0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search with zero vector: %v", err)
	}
	if got != nil {
		t.Errorf("zero-vector results = %v, want nil", got)
	}
}

func TestSearchTopKBound(t *testing.T) {
	s := openTestStore(t)
	tender, err := s.CreateTender(storage.Tender{Entity: "e"})
	if err != nil {
		t.Fatalf("CreateTender: %v", err)
	}
	for i := 0; i < 5; i++ {
		seedChunk(t, s, tender.ID, i, "c", []float32{1, float32(i) / 10, 0})
	}

	got, err := NewSearcher(s.DB(), 3).Search(context.Background(), []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("results = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d: %v > %v", i, got[i].Score, got[i-1].Score)
		}
	}
}
