// Package retrieval provides similarity search over tender chunk embeddings.
package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/roldanp/tenderwatch/internal/storage"
)

// ScoredChunk is one similarity hit.
type ScoredChunk struct {
	ChunkID  int64
	TenderID int64
	Index    int
	Text     string
	Score    float32
}

// Searcher runs brute-force cosine similarity over the tender_chunks vector
// column. Rows without a native vector (not yet backfilled) are excluded by
// the scan predicate, which the partial index kept by the backfill pipeline
// serves.
type Searcher struct {
	db  *sql.DB
	dim int
}

// NewSearcher wraps an existing handle. dim is the configured vector
// dimensionality; queries of any other length are a configuration error.
func NewSearcher(db *sql.DB, dim int) *Searcher {
	return &Searcher{db: db, dim: dim}
}

// Search returns the top-K chunks most similar to the query vector.
func (s *Searcher) Search(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error) {
	if s.dim > 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, store is configured for %d", len(vector), s.dim)
	}

	queryNorm := norm(vector)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM tender_chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = storage.DecodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the top-K IDs.
	topIDs := make([]int64, h.Len())
	scores := make(map[int64]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		args[i] = id
	}
	fullQuery := `SELECT id, tender_id, chunk_idx, chunk_text FROM tender_chunks
		WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredChunk
	for fullRows.Next() {
		var c ScoredChunk
		if err := fullRows.Scan(&c.ChunkID, &c.TenderID, &c.Index, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Score = scores[c.ChunkID]
		results = append(results, c)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// sortByScore sorts ScoredChunks by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredChunk) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used during the
// scan phase to track top-K candidates by ID only.
type idScore struct {
	ID    int64
	Score float32
}

type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
