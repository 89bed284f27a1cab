package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
)

// Compile-time checks.
var (
	_ domain.EmbeddingClient = (*Embedder)(nil)
	_ domain.HealthChecker   = (*Embedder)(nil)
)

const clientLabel = "openai"

// Embedder is an embedding client for an OpenAI-compatible server
// (llama.cpp, Ollama, text-embeddings-inference, or a hosted API).
type Embedder struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	http   *http.Client
	client *openai.Client
}

// Config holds the embedding server settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	// VerifyModel makes Load fail when the server does not list Model.
	VerifyModel bool
	Logger      *zap.Logger
}

// NewEmbedder creates an unloaded client.
func NewEmbedder(cfg *Config) *Embedder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{cfg: *cfg, logger: logger}
}

// Load opens the connection and optionally checks that the model is served.
func (e *Embedder) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return nil
	}

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	clientCfg := openai.DefaultConfig(e.cfg.APIKey)
	clientCfg.BaseURL = e.cfg.BaseURL
	clientCfg.HTTPClient = hc
	client := openai.NewClientWithConfig(clientCfg)

	if e.cfg.VerifyModel {
		if err := verifyModel(ctx, client, e.cfg.Model); err != nil {
			hc.CloseIdleConnections()
			return err
		}
	}

	e.http, e.client = hc, client
	metrics.EmbeddingLoaded.WithLabelValues(clientLabel).Set(1)
	e.logger.Debug("embedding client loaded", zap.String("model", e.cfg.Model))
	return nil
}

// Unload drops the client and its idle connections.
func (e *Embedder) Unload(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	e.http.CloseIdleConnections()
	e.http, e.client = nil, nil
	metrics.EmbeddingLoaded.WithLabelValues(clientLabel).Set(0)
	e.logger.Debug("embedding client unloaded", zap.String("model", e.cfg.Model))
	return nil
}

// Embed vectorizes texts in one request and L2-normalizes every row.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, domain.ErrClientNotLoaded
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(e.cfg.Model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.cfg.Dimensions > 0 {
		req.Dimensions = e.cfg.Dimensions
	}

	start := time.Now()
	resp, err := client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(clientLabel, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(clientLabel, "api_error").Inc()
		return nil, parseAPIError(err)
	}

	vecs, err := collectVectors(resp.Data, len(texts))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(clientLabel, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(clientLabel, "bad_response").Inc()
		return nil, err
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(clientLabel, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(clientLabel).Observe(duration.Seconds())
	metrics.EmbeddingTextsTotal.WithLabelValues(clientLabel).Add(float64(len(texts)))
	return vecs, nil
}

// HealthCheck verifies API availability via ListModels.
// It uses a short-lived client so it works while the embedder is unloaded.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	clientCfg := openai.DefaultConfig(e.cfg.APIKey)
	clientCfg.BaseURL = e.cfg.BaseURL
	if _, err := openai.NewClientWithConfig(clientCfg).ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func verifyModel(ctx context.Context, client *openai.Client, model string) error {
	list, err := client.ListModels(ctx)
	if err != nil {
		return parseAPIError(err)
	}
	for _, m := range list.Models {
		if m.ID == model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served: %w", model, domain.ErrEmbeddingProviderError)
}

// collectVectors orders rows by their index and normalizes them.
func collectVectors(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("got %d embeddings for %d texts: %w", len(data), want, domain.ErrEmbeddingProviderError)
	}
	vecs := make([][]float32, want)
	dim := -1
	for _, d := range data {
		if d.Index < 0 || d.Index >= want || vecs[d.Index] != nil {
			return nil, fmt.Errorf("bad embedding index %d: %w", d.Index, domain.ErrEmbeddingProviderError)
		}
		if dim == -1 {
			dim = len(d.Embedding)
		}
		if len(d.Embedding) == 0 || len(d.Embedding) != dim {
			return nil, fmt.Errorf("embedding %d: %w", d.Index, domain.NewDimMismatch(dim, len(d.Embedding)))
		}
		v := make([]float32, dim)
		copy(v, d.Embedding)
		domain.NormalizeL2(v)
		vecs[d.Index] = v
	}
	return vecs, nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEmbeddingProviderError.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProviderError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w: %w", wrap, err)
}

// extractDetail extracts the "detail" or "error" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error
}
