// Package hashing is an offline embedding client based on feature hashing.
// Tokens and token bigrams are hashed into a fixed number of signed buckets,
// so equal texts always map to equal vectors and no model is needed.
package hashing

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
)

var _ domain.EmbeddingClient = (*Embedder)(nil)

const clientLabel = "hashing"

// DefaultDimensions matches the default vector index dimension.
const DefaultDimensions = 312

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// Embedder hashes text into dims buckets.
type Embedder struct {
	dims   int
	loaded atomic.Bool
}

// New creates an unloaded embedder. dims <= 0 selects DefaultDimensions.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the output vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Load marks the embedder ready.
func (e *Embedder) Load(_ context.Context) error {
	e.loaded.Store(true)
	metrics.EmbeddingLoaded.WithLabelValues(clientLabel).Set(1)
	return nil
}

// Unload marks the embedder released.
func (e *Embedder) Unload(_ context.Context) error {
	e.loaded.Store(false)
	metrics.EmbeddingLoaded.WithLabelValues(clientLabel).Set(0)
	return nil
}

// Embed returns one unit vector per text. Texts without tokens map to the zero vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.loaded.Load() {
		return nil, domain.ErrClientNotLoaded
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // context error
		}
		out[i] = e.vector(t)
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(clientLabel, "success").Inc()
	metrics.EmbeddingTextsTotal.WithLabelValues(clientLabel).Add(float64(len(texts)))
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(v, tok, 1)
		if i > 0 {
			e.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	domain.NormalizeL2(v)
	return v
}

func (e *Embedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(norm.NFKC.String(text)), -1)
}
