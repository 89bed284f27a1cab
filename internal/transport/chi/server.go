package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	logpkg "github.com/r9zhenka/raspberry-rag/internal/logger"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
	healthuc "github.com/r9zhenka/raspberry-rag/internal/usecase/health"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/retriever"
)

const maxTopK = 50

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeDimMismatch      = "vector_dim_mismatch"
	codeNoDocuments      = "no_documents"
	codeIndexingBusy     = "indexing_in_progress"
	codeEmbeddingError   = "embedding_provider_error"
	codeNotImplemented   = "not_implemented"
	codeIndexCorrupt     = "index_corrupt"
	codeInternalError    = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchRequest is the body of POST /v1/search. Exactly one of Query and Text is set.
type SearchRequest struct {
	Query []float32 `json:"query,omitempty"`
	Text  string    `json:"text,omitempty"`
	K     int       `json:"k,omitempty"`
}

// SearchResponse is the body returned by POST /v1/search.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

// ReindexRequest is the optional body of POST /v1/reindex.
type ReindexRequest struct {
	Rebuild bool `json:"rebuild"`
}

// StatsResponse is the body returned by GET /v1/stats.
type StatsResponse struct {
	Documents int          `json:"documents"`
	Chunks    int          `json:"chunks"`
	MaxSlot   int64        `json:"max_slot"`
	IndexRows int          `json:"index_rows"`
	LastRun   *RunResponse `json:"last_run,omitempty"`
}

// RunResponse describes one index run journal entry.
type RunResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	NewChunks   int        `json:"new_chunks"`
	TotalChunks int        `json:"total_chunks"`
	Error       string     `json:"error,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves retrieval, reindexing and health over HTTP.
type Server struct {
	search        Searcher
	indexer       Reindexer
	stats         StatsReader
	health        *healthuc.Service
	documentsDir  string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. documentsDir is the directory POST /v1/reindex indexes.
func NewServer(
	search Searcher,
	indexer Reindexer,
	stats StatsReader,
	health *healthuc.Service,
	documentsDir string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:       search,
		indexer:      indexer,
		stats:        stats,
		health:       health,
		documentsDir: documentsDir,
		logger:       logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeDimMismatch),
		sentinelHandler(domain.ErrNoDocuments, http.StatusUnprocessableEntity, codeNoDocuments),
		sentinelHandler(domain.ErrLocked, http.StatusConflict, codeIndexingBusy),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingError),
		sentinelHandler(retriever.ErrNoEmbeddingClient, http.StatusNotImplemented, codeNotImplemented),
		sentinelHandler(domain.ErrIndexCorrupt, http.StatusServiceUnavailable, codeIndexCorrupt),
	}
	return s
}

// Routes builds the chi router with the standard middleware chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.Search)
		r.Post("/reindex", s.Reindex)
		r.Get("/stats", s.Stats)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	hasQuery, hasText := len(req.Query) > 0, req.Text != ""
	if hasQuery == hasText {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "exactly one of query and text is required")
		return
	}
	if req.K < 0 || req.K > maxTopK {
		writeError(w, http.StatusBadRequest, codeValidationFailed, fmt.Sprintf("k must be between 1 and %d", maxTopK))
		return
	}

	var (
		results []domain.SearchResult
		err     error
	)
	if hasQuery {
		results, err = s.search.Search(r.Context(), req.Query, req.K)
	} else {
		results, err = s.search.SearchText(r.Context(), req.Text, req.K)
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Reindex handles POST /v1/reindex. An empty body runs a directory pass.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	var (
		report indexer.Report
		err    error
	)
	if req.Rebuild {
		report, err = s.indexer.Rebuild(r.Context())
	} else {
		report, err = s.indexer.IndexDirectory(r.Context(), s.documentsDir)
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := StatsResponse{
		Documents: st.Documents,
		Chunks:    st.Chunks,
		MaxSlot:   st.MaxSlot,
		IndexRows: s.search.Rows(),
	}
	if st.LastRun != nil {
		resp.LastRun = runToResponse(st.LastRun)
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

func runToResponse(run *domain.IndexRun) *RunResponse {
	out := &RunResponse{
		ID:          run.ID,
		Kind:        string(run.Kind),
		Status:      string(run.Status),
		StartedAt:   run.StartedAt.UTC(),
		NewChunks:   run.NewChunks,
		TotalChunks: run.TotalChunks,
		Error:       run.Error,
	}
	if !run.FinishedAt.IsZero() {
		f := run.FinishedAt.UTC()
		out.FinishedAt = &f
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The sentinel text is sent to the client, never the wrapped chain.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
