package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// UpsertChunk inserts or overwrites a text fragment keyed by
// (tender, chunk index). Replaying the same ingestion stream never produces
// duplicate rows.
func (s *Store) UpsertChunk(c Chunk) error {
	var blob interface{}
	if c.Embedding != nil {
		blob = EncodeVector(c.Embedding)
	}
	_, err := s.db.Exec(`
		INSERT INTO tender_chunks (tender_id, chunk_idx, chunk_text, embedding_text, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tender_id, chunk_idx) DO UPDATE SET
			chunk_text = excluded.chunk_text,
			embedding_text = excluded.embedding_text,
			embedding = excluded.embedding`,
		c.TenderID, c.Index, c.Text, c.EmbeddingText, blob)
	if err != nil {
		return fmt.Errorf("upserting chunk %d/%d: %w", c.TenderID, c.Index, err)
	}
	return nil
}

// ChunkVectors returns up to limit decoded chunk embeddings for one tender in
// chunk order. Rows without a native vector are excluded.
func (s *Store) ChunkVectors(tenderID int64, limit int) ([][]float32, error) {
	rows, err := s.db.Query(`
		SELECT embedding FROM tender_chunks
		WHERE tender_id = ? AND embedding IS NOT NULL
		ORDER BY chunk_idx ASC LIMIT ?`, tenderID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors for tender %d: %w", tenderID, err)
	}
	defer rows.Close()

	var vecs [][]float32
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		v, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding chunk vector for tender %d: %w", tenderID, err)
		}
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// ChunkVectorsForTenders returns decoded chunk embeddings for many tenders in
// one scan, keeping at most perTender vectors per tender.
func (s *Store) ChunkVectorsForTenders(ids []int64, perTender int) (map[int64][][]float32, error) {
	out := make(map[int64][][]float32)
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT tender_id, embedding FROM tender_chunks
		WHERE embedding IS NOT NULL AND tender_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)
		ORDER BY tender_id ASC, chunk_idx ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		if len(out[id]) >= perTender {
			continue
		}
		v, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding chunk vector for tender %d: %w", id, err)
		}
		out[id] = append(out[id], v)
	}
	return out, rows.Err()
}

// GetChunk returns one chunk by (tender, chunk index).
func (s *Store) GetChunk(tenderID int64, index int) (Chunk, error) {
	var c Chunk
	var blob []byte
	err := s.db.QueryRow(`
		SELECT id, tender_id, chunk_idx, chunk_text, embedding_text, embedding
		FROM tender_chunks WHERE tender_id = ? AND chunk_idx = ?`, tenderID, index,
	).Scan(&c.ID, &c.TenderID, &c.Index, &c.Text, &c.EmbeddingText, &blob)
	if err == sql.ErrNoRows {
		return Chunk{}, ErrNotFound
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("reading chunk %d/%d: %w", tenderID, index, err)
	}
	if blob != nil {
		if c.Embedding, err = DecodeVector(blob); err != nil {
			return Chunk{}, fmt.Errorf("decoding embedding for chunk %d: %w", c.ID, err)
		}
	}
	return c, nil
}
