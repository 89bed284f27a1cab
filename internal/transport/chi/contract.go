package chi

import (
	"context"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
)

// Searcher answers similarity queries.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]domain.SearchResult, error)
	SearchText(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
	Rows() int
}

// Reindexer runs indexing passes on demand.
type Reindexer interface {
	IndexDirectory(ctx context.Context, dir string) (indexer.Report, error)
	Rebuild(ctx context.Context) (indexer.Report, error)
}

// StatsReader summarizes the metadata store.
type StatsReader interface {
	Stats(ctx context.Context) (domain.StoreStats, error)
}
