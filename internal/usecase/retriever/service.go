// Package retriever answers similarity queries from the persisted vector index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/embedding"
	"github.com/r9zhenka/raspberry-rag/internal/vectorindex"
)

// DefaultTopK is used when a caller passes k <= 0.
const DefaultTopK = 3

// ErrNoEmbeddingClient is returned by SearchText when no client is configured.
var ErrNoEmbeddingClient = errors.New("retriever has no embedding client")

// Service serves searches from an in-memory snapshot of the index file.
// The snapshot is loaded on first use and replaced only by Reload.
type Service struct {
	resolver   ChunkResolver
	client     domain.EmbeddingClient
	indexPath  string
	defaultDim int
	topK       int
	minScore   float32
	logger     *zap.Logger

	mu  sync.RWMutex
	idx *vectorindex.Index
}

// Option configures a Service.
type Option func(*Service)

// WithEmbeddingClient enables SearchText.
func WithEmbeddingClient(c domain.EmbeddingClient) Option {
	return func(s *Service) { s.client = c }
}

// WithTopK sets the k used when callers pass k <= 0.
func WithTopK(k int) Option { return func(s *Service) { s.topK = k } }

// WithMinScore drops hits scoring below score.
func WithMinScore(score float32) Option { return func(s *Service) { s.minScore = score } }

// WithDefaultDim sets the dimension reported while no index file exists.
func WithDefaultDim(dim int) Option { return func(s *Service) { s.defaultDim = dim } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a retriever over the index file at indexPath.
func New(resolver ChunkResolver, indexPath string, opts ...Option) *Service {
	s := &Service{
		resolver:   resolver,
		indexPath:  indexPath,
		defaultDim: vectorindex.DefaultDim,
		topK:       DefaultTopK,
		minScore:   -math.MaxFloat32,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.client != nil {
		// concurrent SearchText calls share one reference-counted session
		s.client = embedding.NewInstrumentedClient(s.client, "query", 1, s.logger)
	}
	return s
}

// Search returns up to k chunks by descending score.
// Slots without a stored chunk are skipped.
func (s *Service) Search(ctx context.Context, query []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = s.topK
	}
	idx, err := s.index()
	if err != nil {
		metrics.RetrieverSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	hits, err := idx.Search(query, k)
	if err != nil {
		metrics.RetrieverSearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.minScore {
			break
		}
		text, name, err := s.resolver.LookupChunkBySlot(ctx, h.Slot)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("Skipping unresolved slot", zap.Int64("slot", h.Slot))
			continue
		}
		if err != nil {
			metrics.RetrieverSearchesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("resolve slot %d: %w", h.Slot, err)
		}
		results = append(results, domain.SearchResult{Text: text, Score: h.Score, DocumentName: name})
	}

	status := "ok"
	if len(results) == 0 {
		status = "empty"
	}
	metrics.RetrieverSearchesTotal.WithLabelValues(status).Inc()
	return results, nil
}

// SearchText embeds text within a client session and searches with the vector.
func (s *Service) SearchText(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if s.client == nil {
		return nil, ErrNoEmbeddingClient
	}
	var query []float32
	err := embedding.WithSession(ctx, s.client, s.logger, func(ctx context.Context, c domain.EmbeddingClient) error {
		vecs, err := c.Embed(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed query: got %d vectors: %w", len(vecs), domain.ErrEmbeddingProviderError)
		}
		query = vecs[0]
		return nil
	})
	if err != nil {
		metrics.RetrieverSearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return s.Search(ctx, query, k)
}

// Reload replaces the in-memory snapshot with the index file on disk.
func (s *Service) Reload() error {
	idx, found, err := vectorindex.OpenOrEmpty(s.indexPath, s.defaultDim)
	if err != nil {
		return fmt.Errorf("reload index: %w", err)
	}
	s.mu.Lock()
	if found {
		s.idx = idx
	} else {
		s.idx = nil
	}
	s.mu.Unlock()
	s.logger.Info("Vector index loaded",
		zap.String("path", s.indexPath),
		zap.Bool("found", found),
		zap.Int("rows", idx.Len()),
		zap.Int("dim", idx.Dim()),
	)
	return nil
}

// Rows returns the row count of the loaded snapshot, or 0 before the first load.
func (s *Service) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.idx == nil {
		return 0
	}
	return s.idx.Len()
}

// HealthCheck reports whether the index file is readable. A missing file is healthy.
func (s *Service) HealthCheck(_ context.Context) error {
	_, err := s.index()
	return err
}

// index returns the snapshot, loading it on first use. A missing file reads as
// an empty index and is retried on the next call.
func (s *Service) index() (*vectorindex.Index, error) {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		return s.idx, nil
	}
	idx, found, err := vectorindex.OpenOrEmpty(s.indexPath, s.defaultDim)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if found {
		s.idx = idx
	}
	return idx, nil
}
