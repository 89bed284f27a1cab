package domain

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingClient is the heavyweight text vectorization resource.
// Load must succeed before Embed; Unload releases the model.
// Embed returns one L2-normalized row per input text, all of the same dimension.
type EmbeddingClient interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PrefixedClient prepends a fixed instruction to every text before embedding.
// Models of the e5 family expect "passage: " for documents and "query: " for questions.
type PrefixedClient struct {
	inner  EmbeddingClient
	prefix string
}

// NewPrefixedClient wraps inner. An empty prefix returns inner unchanged.
func NewPrefixedClient(inner EmbeddingClient, prefix string) EmbeddingClient {
	if prefix == "" {
		return inner
	}
	return &PrefixedClient{inner: inner, prefix: prefix}
}

// Load delegates to the inner client.
func (c *PrefixedClient) Load(ctx context.Context) error { return c.inner.Load(ctx) }

// Unload delegates to the inner client.
func (c *PrefixedClient) Unload(ctx context.Context) error { return c.inner.Unload(ctx) }

// Embed prepends the prefix and delegates.
func (c *PrefixedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = c.prefix + t
	}
	vecs, err := c.inner.Embed(ctx, prefixed)
	if err != nil {
		return nil, fmt.Errorf("prefixed embed: %w", err)
	}
	return vecs, nil
}

// HealthCheck probes the inner client when it supports it.
func (c *PrefixedClient) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

// NormalizeL2 scales v to unit length in place. Zero vectors stay zero.
func NormalizeL2(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
