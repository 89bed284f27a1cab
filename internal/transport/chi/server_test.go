package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	healthuc "github.com/r9zhenka/raspberry-rag/internal/usecase/health"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/retriever"
)

// --- Mocks ---

type mockSearcher struct {
	searchFn     func(ctx context.Context, query []float32, k int) ([]domain.SearchResult, error)
	searchTextFn func(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
	rows         int
}

func (m *mockSearcher) Search(ctx context.Context, query []float32, k int) ([]domain.SearchResult, error) {
	return m.searchFn(ctx, query, k)
}

func (m *mockSearcher) SearchText(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	return m.searchTextFn(ctx, text, k)
}

func (m *mockSearcher) Rows() int { return m.rows }

type mockReindexer struct {
	indexFn   func(ctx context.Context, dir string) (indexer.Report, error)
	rebuildFn func(ctx context.Context) (indexer.Report, error)
}

func (m *mockReindexer) IndexDirectory(ctx context.Context, dir string) (indexer.Report, error) {
	return m.indexFn(ctx, dir)
}

func (m *mockReindexer) Rebuild(ctx context.Context) (indexer.Report, error) {
	return m.rebuildFn(ctx)
}

type mockStats struct {
	stats domain.StoreStats
	err   error
}

func (m *mockStats) Stats(_ context.Context) (domain.StoreStats, error) { return m.stats, m.err }

type mockPinger struct{ err error }

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

// --- Helpers ---

func newTestServer(s Searcher, idx Reindexer, st StatsReader, pingErr error) http.Handler {
	if s == nil {
		s = &mockSearcher{}
	}
	if idx == nil {
		idx = &mockReindexer{}
	}
	if st == nil {
		st = &mockStats{}
	}
	health := healthuc.New(&mockPinger{err: pingErr}, nil, nil)
	return NewServer(s, idx, st, health, "/srv/docs", zap.NewNop()).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

// --- Search ---

func TestSearch_ByVector(t *testing.T) {
	var gotK int
	s := &mockSearcher{searchFn: func(_ context.Context, q []float32, k int) ([]domain.SearchResult, error) {
		gotK = k
		if len(q) != 2 {
			t.Errorf("query len = %d", len(q))
		}
		return []domain.SearchResult{{Text: "hello", Score: 0.9, DocumentName: "a.txt"}}, nil
	}}
	rec := do(t, newTestServer(s, nil, nil, nil), http.MethodPost, "/v1/search", `{"query":[0.6,0.8],"k":2}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp SearchResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].DocumentName != "a.txt" {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if gotK != 2 {
		t.Errorf("k = %d, want 2", gotK)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestSearch_ByText(t *testing.T) {
	s := &mockSearcher{searchTextFn: func(_ context.Context, text string, _ int) ([]domain.SearchResult, error) {
		if text != "что такое ML?" {
			t.Errorf("text = %q", text)
		}
		return nil, nil
	}}
	rec := do(t, newTestServer(s, nil, nil, nil), http.MethodPost, "/v1/search", `{"text":"что такое ML?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != "{\"results\":[]}\n" {
		t.Errorf("empty results must encode as [], got %s", body)
	}
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, codeBadRequest},
		{"neither", `{}`, codeValidationFailed},
		{"both", `{"query":[1],"text":"x"}`, codeValidationFailed},
		{"negative k", `{"text":"x","k":-1}`, codeValidationFailed},
		{"huge k", `{"text":"x","k":1000}`, codeValidationFailed},
	}
	h := newTestServer(nil, nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/search", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if e := decodeError(t, rec); e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewDimMismatch(312, 2), http.StatusBadRequest, codeDimMismatch},
		{fmt.Errorf("embed: %w", domain.ErrEmbeddingProviderError), http.StatusBadGateway, codeEmbeddingError},
		{retriever.ErrNoEmbeddingClient, http.StatusNotImplemented, codeNotImplemented},
		{fmt.Errorf("load: %w", domain.ErrIndexCorrupt), http.StatusServiceUnavailable, codeIndexCorrupt},
		{errors.New("disk on fire"), http.StatusInternalServerError, codeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := &mockSearcher{searchFn: func(context.Context, []float32, int) ([]domain.SearchResult, error) {
				return nil, tt.err
			}}
			rec := do(t, newTestServer(s, nil, nil, nil), http.MethodPost, "/v1/search", `{"query":[1,0]}`)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			e := decodeError(t, rec)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if e.Message == "disk on fire" {
				t.Error("internal error text must not leak")
			}
		})
	}
}

// --- Reindex ---

func TestReindex_Directory(t *testing.T) {
	idx := &mockReindexer{indexFn: func(_ context.Context, dir string) (indexer.Report, error) {
		if dir != "/srv/docs" {
			t.Errorf("dir = %q", dir)
		}
		return indexer.Report{RunID: "run-1", NewChunks: 3, TotalChunks: 10, Rebuilt: true}, nil
	}}
	rec := do(t, newTestServer(nil, idx, nil, nil), http.MethodPost, "/v1/reindex", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var rep indexer.Report
	_ = json.NewDecoder(rec.Body).Decode(&rep)
	if rep.RunID != "run-1" || rep.NewChunks != 3 || rep.TotalChunks != 10 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestReindex_Rebuild(t *testing.T) {
	called := false
	idx := &mockReindexer{rebuildFn: func(context.Context) (indexer.Report, error) {
		called = true
		return indexer.Report{Rebuilt: true}, nil
	}}
	rec := do(t, newTestServer(nil, idx, nil, nil), http.MethodPost, "/v1/reindex", `{"rebuild":true}`)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, rebuild called = %v", rec.Code, called)
	}
}

func TestReindex_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNoDocuments, http.StatusUnprocessableEntity},
		{fmt.Errorf("acquire: %w", domain.ErrLocked), http.StatusConflict},
	}
	for _, tt := range tests {
		idx := &mockReindexer{indexFn: func(context.Context, string) (indexer.Report, error) {
			return indexer.Report{}, tt.err
		}}
		rec := do(t, newTestServer(nil, idx, nil, nil), http.MethodPost, "/v1/reindex", "")
		if rec.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.status)
		}
	}
}

// --- Stats / Health ---

func TestStats(t *testing.T) {
	started := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	st := &mockStats{stats: domain.StoreStats{
		Documents: 2,
		Chunks:    5,
		MaxSlot:   7,
		LastRun: &domain.IndexRun{
			ID: "r1", Kind: domain.RunKindDirectory, Status: domain.RunSucceeded,
			StartedAt: started, FinishedAt: started.Add(time.Second), NewChunks: 5, TotalChunks: 5,
		},
	}}
	rec := do(t, newTestServer(&mockSearcher{rows: 5}, nil, st, nil), http.MethodGet, "/v1/stats", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Documents != 2 || resp.Chunks != 5 || resp.MaxSlot != 7 || resp.IndexRows != 5 {
		t.Errorf("unexpected stats %+v", resp)
	}
	if resp.LastRun == nil || resp.LastRun.Kind != "directory" || resp.LastRun.FinishedAt == nil {
		t.Errorf("unexpected last run %+v", resp.LastRun)
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(nil, nil, nil, nil), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = do(t, newTestServer(nil, nil, nil, errors.New("database is locked")), http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != string(healthuc.Unhealthy) || resp.Checks[healthuc.ComponentMetadata] != "error" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	h := newTestServer(nil, nil, nil, nil)
	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v2/nothing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/search", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method status = %d", rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	s := &mockSearcher{searchFn: func(context.Context, []float32, int) ([]domain.SearchResult, error) {
		panic("boom")
	}}
	rec := do(t, newTestServer(s, nil, nil, nil), http.MethodPost, "/v1/search", `{"query":[1]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != codeInternalError {
		t.Errorf("code = %q", e.Code)
	}
}
