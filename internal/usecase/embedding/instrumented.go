package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// DefaultBatchSize: сколько текстов уходит в один вызов клиента.
const DefaultBatchSize = 32

var _ domain.EmbeddingClient = (*InstrumentedClient)(nil)

// InstrumentedClient wraps an EmbeddingClient with batching, result checks and logging.
// Transport metrics (requests, duration, texts) are recorded by the inner client.
//
// Load and Unload are reference-counted: the inner client is loaded by the
// first open session and unloaded when the last one ends, so overlapping
// sessions never pull the model from under each other.
type InstrumentedClient struct {
	inner     domain.EmbeddingClient
	name      string
	batchSize int
	logger    *zap.Logger

	mu       sync.Mutex
	sessions int
}

// NewInstrumentedClient wraps inner. batchSize <= 0 selects DefaultBatchSize.
func NewInstrumentedClient(inner domain.EmbeddingClient, name string, batchSize int, logger *zap.Logger) *InstrumentedClient {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedClient{inner: inner, name: name, batchSize: batchSize, logger: logger}
}

// BatchSize returns the sub-batch size.
func (p *InstrumentedClient) BatchSize() int { return p.batchSize }

// Load opens a session, loading the inner client if no other session holds it.
// A failed load releases the inner client and opens no session.
func (p *InstrumentedClient) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions > 0 {
		p.sessions++
		return nil
	}

	start := time.Now()
	if err := p.inner.Load(ctx); err != nil {
		p.logger.Error("Embedding client load failed", zap.String("client", p.name), zap.Error(err))
		if uerr := p.inner.Unload(context.WithoutCancel(ctx)); uerr != nil {
			p.logger.Warn("Embedding client unload failed", zap.String("client", p.name), zap.Error(uerr))
		}
		return fmt.Errorf("load %s: %w", p.name, err)
	}
	p.sessions = 1
	p.logger.Debug("Embedding client loaded",
		zap.String("client", p.name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Unload closes a session and unloads the inner client when it was the last one.
// Unload without an open session does nothing.
func (p *InstrumentedClient) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == 0 {
		return nil
	}
	p.sessions--
	if p.sessions > 0 {
		return nil
	}
	if err := p.inner.Unload(ctx); err != nil {
		return fmt.Errorf("unload %s: %w", p.name, err)
	}
	p.logger.Debug("Embedding client unloaded", zap.String("client", p.name))
	return nil
}

// Sessions returns the number of open sessions.
func (p *InstrumentedClient) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions
}

// Embed splits texts into sub-batches and checks that every row has the same dimension.
func (p *InstrumentedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	out := make([][]float32, 0, len(texts))
	dim := -1

	for offset := 0; offset < len(texts); offset += p.batchSize {
		end := min(offset+p.batchSize, len(texts))
		chunk := texts[offset:end]

		vecs, err := p.inner.Embed(ctx, chunk)
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("client", p.name),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("batch embed: %w", err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("batch embed: got %d vectors for %d texts: %w",
				len(vecs), len(chunk), domain.ErrEmbeddingProviderError)
		}
		for _, v := range vecs {
			if dim == -1 {
				dim = len(v)
			}
			if len(v) != dim {
				return nil, fmt.Errorf("batch embed: %w", domain.NewDimMismatch(dim, len(v)))
			}
		}
		out = append(out, vecs...)
	}

	p.logger.Debug("Batch embedding completed",
		zap.String("client", p.name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("dimensions", dim),
	)
	return out, nil
}
