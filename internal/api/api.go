// Package api is the HTTP surface: the ingestion boundary (tenders, chunks,
// calendar facts), flag reporting and similarity search.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roldanp/tenderwatch/internal/dispatch"
	"github.com/roldanp/tenderwatch/internal/flags"
	"github.com/roldanp/tenderwatch/internal/metrics"
	"github.com/roldanp/tenderwatch/internal/retrieval"
	"github.com/roldanp/tenderwatch/internal/storage"
)

type AppDeps struct {
	Store      *storage.Store
	Dispatcher *dispatch.Dispatcher
	Evaluator  *flags.Evaluator
	Searcher   *retrieval.Searcher
	Token      string
}

// NewHandler builds the router. Health and metrics are unauthenticated;
// everything else sits behind bearer auth.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/tenders", handleCreateTender(deps))
		r.Get("/tenders/search", handleSearchTenders(deps))
		r.Get("/tenders/{id}", handleGetTender(deps))
		r.Get("/tenders/{id}/flags", handleListFlags(deps))
		r.Post("/chunks", handleUpsertChunk(deps))
		r.Post("/calendar", handleCalendarWrite(deps))
		r.Post("/holidays", handleAddHolidays(deps))
		r.Post("/pipelines/run/{id}", handleRunPipeline(deps))
		r.Post("/search/vector", handleVectorSearch(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DB().Ping(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, status int, kind, format string, args ...interface{}) {
	var body errorBody
	body.Error.Type = kind
	body.Error.Message = fmt.Sprintf(format, args...)
	writeJSON(w, status, body)
}
