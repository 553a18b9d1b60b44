package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Tender is a procurement process ingested from an external portal.
// Identity is immutable once created; this subsystem only derives facts
// from it, it never rewrites the source attributes.
type Tender struct {
	ID            int64
	Entity        string
	Subject       string
	Amount        float64
	Modality      string
	Reference     string // natural process number from the source portal
	Status        string
	PublishedOn   *time.Time
	Location      string
	Sector        string
	Link          string
	SourcePortal  string
	IndexedText   string
	EmbeddingText string // legacy serialized vector, consumed by backfill
}

// CalendarFact is a staging row keyed by the external document key, produced
// by the upstream extraction/normalization process. All four timestamps are
// optional; UpdatedAt moves on every write.
type CalendarFact struct {
	ExtKey       string
	AcceptanceAt *time.Time
	OpeningAt    *time.Time
	PublishedAt  *time.Time
	SubmissionAt *time.Time
	Source       string
	UpdatedAt    time.Time
}

// Rule is a fixed catalog entry identifying one derivation.
type Rule struct {
	ID          int64
	Code        string
	Name        string
	Description string
}

// FlagAssignment is the current derived boolean for a (tender, rule) pair.
// Unique on (TenderID, RuleID); only the evaluator writes it.
type FlagAssignment struct {
	ID         int64
	TenderID   int64
	RuleID     int64
	Value      bool
	DetectedAt time.Time
	Evidence   string
	Source     string
}

// AuditEntry is one immutable record of a flag assignment transition.
type AuditEntry struct {
	ID     int64
	FlagID int64
	Change string
	At     time.Time
	Actor  string
}

// WorkItem is one pending recomputation. Unique on (TenderID, ExtKey) so
// repeated calendar writes coalesce into a single item.
type WorkItem struct {
	TenderID  int64
	ExtKey    string
	CreatedAt time.Time
}

// Chunk is a fragment of a tender's indexed text with its own embedding.
type Chunk struct {
	ID            int64
	TenderID      int64
	Index         int
	Text          string
	EmbeddingText string
	Embedding     []float32
}

// Comparable is the header slice of a tender the price rule scores against:
// the grouping attributes plus the amount.
type Comparable struct {
	ID       int64
	Modality string
	Sector   string
	Status   string
	Amount   float64
}

// FlagView joins a flag assignment with its rule for reporting.
type FlagView struct {
	RuleCode   string
	RuleName   string
	Value      bool
	DetectedAt time.Time
	Evidence   string
}
