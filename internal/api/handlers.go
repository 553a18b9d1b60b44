package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roldanp/tenderwatch/internal/audit"
	"github.com/roldanp/tenderwatch/internal/calendar"
	"github.com/roldanp/tenderwatch/internal/metrics"
	"github.com/roldanp/tenderwatch/internal/storage"
)

const maxBodySize = 10 << 20 // 10MB

// TenderRequest is the ingestion-boundary shape for creating a tender.
type TenderRequest struct {
	Entity        string  `json:"entity"`
	Subject       string  `json:"subject"`
	Amount        float64 `json:"amount"`
	Modality      string  `json:"modality"`
	Reference     string  `json:"reference"`
	Status        string  `json:"status"`
	PublishedOn   string  `json:"published_on"` // YYYY-MM-DD
	Location      string  `json:"location"`
	Sector        string  `json:"sector"`
	Link          string  `json:"link"`
	SourcePortal  string  `json:"source_portal"`
	IndexedText   string  `json:"indexed_text"`
	EmbeddingText string  `json:"embedding_text"`
}

func handleCreateTender(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req TenderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Entity == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "entity is required")
			return
		}

		t := storage.Tender{
			Entity:        req.Entity,
			Subject:       req.Subject,
			Amount:        req.Amount,
			Modality:      req.Modality,
			Reference:     req.Reference,
			Status:        req.Status,
			Location:      req.Location,
			Sector:        req.Sector,
			Link:          req.Link,
			SourcePortal:  req.SourcePortal,
			IndexedText:   req.IndexedText,
			EmbeddingText: req.EmbeddingText,
		}
		if req.PublishedOn != "" {
			d, err := time.Parse("2006-01-02", req.PublishedOn)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid published_on: %v", err)
				return
			}
			t.PublishedOn = &d
		}

		created, err := deps.Store.CreateTender(t)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create tender: %v", err)
			return
		}

		// Creation may have seeded the keymap; a mapping write triggers an
		// inline recomputation for the new pair.
		key, err := deps.Store.ResolveExternalKey(created.ID)
		switch {
		case err == nil:
			if err := deps.Dispatcher.NotifyKeymap(created.ID, key); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "recomputation failed: %v", err)
				return
			}
		case errors.Is(err, storage.ErrNotFound):
			// No external key yet; nothing to recompute.
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "keymap lookup failed: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]int64{"id": created.ID})
	}
}

func handleGetTender(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tender id")
			return
		}
		t, err := deps.Store.GetTender(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "tender %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load tender: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleSearchTenders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		results, err := deps.Store.SearchTenders(q, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
	}
}

func handleListFlags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tender id")
			return
		}
		views, err := deps.Store.ListTenderFlags(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list flags: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"flags": views})
	}
}

// ChunkRequest is the ingestion-boundary shape for one text fragment.
type ChunkRequest struct {
	TenderID      int64  `json:"tender_id"`
	Index         int    `json:"chunk_idx"`
	Text          string `json:"chunk_text"`
	EmbeddingText string `json:"embedding_text"`
}

func handleUpsertChunk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req ChunkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TenderID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tender_id is required")
			return
		}
		err := deps.Store.UpsertChunk(storage.Chunk{
			TenderID:      req.TenderID,
			Index:         req.Index,
			Text:          req.Text,
			EmbeddingText: req.EmbeddingText,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save chunk: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CalendarRequest carries one staging write. Timestamps may arrive already
// normalized (RFC 3339 in the *_at fields) or as raw portal text in the
// *_raw fields, which are normalized here; unparseable raw text leaves the
// timestamp null.
type CalendarRequest struct {
	ExtKey        string `json:"ext_key"`
	AcceptanceAt  string `json:"acceptance_at"`
	OpeningAt     string `json:"opening_at"`
	PublishedAt   string `json:"published_at"`
	SubmissionAt  string `json:"submission_at"`
	AcceptanceRaw string `json:"acceptance_raw"`
	OpeningRaw    string `json:"opening_raw"`
	PublishedRaw  string `json:"published_raw"`
	SubmissionRaw string `json:"submission_raw"`
	Source        string `json:"source"`
}

func handleCalendarWrite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req CalendarRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ExtKey == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ext_key is required")
			return
		}

		fact := storage.CalendarFact{ExtKey: req.ExtKey, Source: req.Source, UpdatedAt: time.Now().UTC()}
		var parseErr error
		fact.AcceptanceAt, parseErr = resolveTimestamp(req.AcceptanceAt, req.AcceptanceRaw)
		if parseErr == nil {
			fact.OpeningAt, parseErr = resolveTimestamp(req.OpeningAt, req.OpeningRaw)
		}
		if parseErr == nil {
			fact.PublishedAt, parseErr = resolveTimestamp(req.PublishedAt, req.PublishedRaw)
		}
		if parseErr == nil {
			fact.SubmissionAt, parseErr = resolveTimestamp(req.SubmissionAt, req.SubmissionRaw)
		}
		if parseErr != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid timestamp: %v", parseErr)
			return
		}

		relevant, err := deps.Store.UpsertCalendarFact(fact)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save calendar fact: %v", err)
			return
		}

		if relevant {
			if err := deps.Dispatcher.NotifyCalendar(req.ExtKey); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "dispatch failed: %v", err)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "dispatched": relevant})
	}
}

// resolveTimestamp prefers the normalized RFC 3339 field; otherwise it
// normalizes the raw portal text. Raw text that doesn't parse yields nil,
// not an error (the staging contract tolerates missing dates).
func resolveTimestamp(normalized, raw string) (*time.Time, error) {
	if normalized != "" {
		t, err := time.Parse(time.RFC3339, normalized)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	if raw != "" {
		if t, ok := calendar.Normalize(raw); ok {
			return &t, nil
		}
	}
	return nil, nil
}

func handleAddHolidays(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Days []string `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		for _, d := range req.Days {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid holiday date %q", d)
				return
			}
		}
		if err := deps.Store.AddHolidays(req.Days...); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save holidays: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleRunPipeline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tender id")
			return
		}

		ac := audit.Context{Actor: actorFrom(r)}
		if err := deps.Evaluator.ComputeFlags(id, ac); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recomputation failed: %v", err)
			return
		}
		metrics.Recomputations.WithLabelValues("manual").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// VectorSearchRequest carries a query vector for chunk similarity search.
type VectorSearchRequest struct {
	Vector []float32 `json:"vector"`
	TopK   int       `json:"top_k"`
}

func handleVectorSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VectorSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Vector) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "vector is required")
			return
		}
		if req.TopK <= 0 {
			req.TopK = 10
		}

		hits, err := deps.Searcher.Search(r.Context(), req.Vector, req.TopK)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "search failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
	}
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}
