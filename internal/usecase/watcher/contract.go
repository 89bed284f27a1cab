package watcher

import (
	"context"

	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
)

// Indexer applies detected changes.
type Indexer interface {
	IndexDirectory(ctx context.Context, dir string) (indexer.Report, error)
	RemoveDocument(ctx context.Context, path string) (indexer.Report, error)
}

// Lister returns the supported files of a directory as absolute paths.
type Lister interface {
	ListSupported(dir string) ([]string, error)
}
