// Package backfill repairs the native embedding columns from legacy
// serialized vector text and maintains the similarity-search index
// structures afterwards.
package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roldanp/tenderwatch/internal/metrics"
	"github.com/roldanp/tenderwatch/internal/storage"
)

// Pipeline backfills the embedding columns of the tenders and tender_chunks
// tables. Only rows whose native vector is unset and whose legacy text parses
// as a delimited numeric list are touched; everything else is left alone.
type Pipeline struct {
	db     *sql.DB
	dim    int
	logger *slog.Logger
}

// New creates a Pipeline. dim is the configured vector dimensionality; rows
// whose legacy text parses to a different length are skipped, never coerced.
func New(db *sql.DB, dim int) *Pipeline {
	return &Pipeline{db: db, dim: dim, logger: slog.Default()}
}

// Stats summarizes one backfill run.
type Stats struct {
	Parsed           int
	SkippedMalformed int
	SkippedDimension int
}

func (s *Stats) add(o Stats) {
	s.Parsed += o.Parsed
	s.SkippedMalformed += o.SkippedMalformed
	s.SkippedDimension += o.SkippedDimension
}

var backfillTables = []string{"tenders", "tender_chunks"}

// Run backfills both tables, refreshes table statistics and rebuilds the
// similarity index structures. Index maintenance is best-effort: failures
// are logged and skipped, the backfill result stands either way.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	// Each run gets its own ID so log lines from overlapping runs stay
	// attributable.
	logger := p.logger.With("run_id", uuid.NewString())

	var total Stats
	for _, table := range backfillTables {
		st, err := p.backfillTable(ctx, logger, table)
		if err != nil {
			return total, fmt.Errorf("backfilling %s: %w", table, err)
		}
		total.add(st)
	}

	p.maintainIndexes(ctx, logger)
	return total, nil
}

type legacyRow struct {
	id   int64
	text string
	vec  []float32 // nil when skipped
}

func (p *Pipeline) backfillTable(ctx context.Context, logger *slog.Logger, table string) (Stats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, embedding_text FROM `+table+`
		WHERE embedding IS NULL AND embedding_text != ''`)
	if err != nil {
		return Stats{}, fmt.Errorf("querying legacy rows: %w", err)
	}

	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.text); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scanning row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Stats{}, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if len(pending) == 0 {
		return Stats{}, nil
	}

	var st Stats

	// Parse phase runs concurrently; writes happen afterwards in one
	// transaction to keep the single SQLite connection uncontended.
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range pending {
		i := i
		g.Go(func() error {
			vec, ok := ParseLegacyVector(pending[i].text)
			if !ok {
				return nil
			}
			if p.dim > 0 && len(vec) != p.dim {
				return nil
			}
			pending[i].vec = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("beginning backfill transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range pending {
		if r.vec == nil {
			if _, ok := ParseLegacyVector(r.text); ok {
				st.SkippedDimension++
				metrics.BackfillRows.WithLabelValues("skipped_dimension").Inc()
			} else {
				st.SkippedMalformed++
				metrics.BackfillRows.WithLabelValues("skipped_malformed").Inc()
			}
			continue
		}
		// embedding IS NULL is re-checked so a concurrently populated vector
		// is never overwritten.
		if _, err := tx.Exec(`UPDATE `+table+` SET embedding = ? WHERE id = ? AND embedding IS NULL`,
			storage.EncodeVector(r.vec), r.id); err != nil {
			return Stats{}, fmt.Errorf("updating row %d: %w", r.id, err)
		}
		st.Parsed++
		metrics.BackfillRows.WithLabelValues("parsed").Inc()
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("committing backfill: %w", err)
	}

	logger.Info("backfill pass finished", "table", table,
		"parsed", st.Parsed, "skipped_malformed", st.SkippedMalformed, "skipped_dimension", st.SkippedDimension)
	return st, nil
}

// maintainIndexes refreshes statistics and (re)builds the partial indexes
// the similarity search scans. Both steps are idempotent; either failing is
// logged and skipped so the pipeline never dies on missing index
// infrastructure.
func (p *Pipeline) maintainIndexes(ctx context.Context, logger *slog.Logger) {
	if _, err := p.db.ExecContext(ctx, `ANALYZE`); err != nil {
		logger.Warn("statistics refresh skipped", "error", err)
	}

	for _, table := range backfillTables {
		if !p.hasVectorColumn(ctx, table) {
			logger.Warn("vector index skipped: no embedding column", "table", table)
			continue
		}
		stmt := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding_set ON %s(id) WHERE embedding IS NOT NULL`,
			table, table)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			logger.Warn("vector index build skipped", "table", table, "error", err)
		}
	}
}

func (p *Pipeline) hasVectorColumn(ctx context.Context, table string) bool {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false
		}
		if name == "embedding" {
			return true
		}
	}
	return false
}

// ParseLegacyVector parses the legacy serialized form: a comma-separated
// numeric list delimited by brackets or parentheses, e.g. "[0.1, 0.2]" or
// "(0.1,0.2)". Returns ok=false for anything else; malformed text is
// filtered, not an error.
func ParseLegacyVector(s string) ([]float32, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return nil, false
	}

	first, last := s[0], s[len(s)-1]
	if !(first == '[' && last == ']') && !(first == '(' && last == ')') {
		return nil, false
	}

	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, false
	}

	parts := strings.Split(inner, ",")
	vec := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, false
		}
		vec[i] = float32(f)
	}
	return vec, true
}
