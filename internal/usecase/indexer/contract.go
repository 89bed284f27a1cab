package indexer

import (
	"context"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

// MetadataStore is the authoritative document and chunk storage.
type MetadataStore interface {
	GetDocument(ctx context.Context, id string) (domdoc.Document, error)
	DeleteDocumentAndChunks(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]domdoc.Document, error)
	// ApplyChanges atomically deletes the documents in remove, swaps the chunks
	// of every replacement and returns the number of chunks inserted.
	ApplyChanges(ctx context.Context, batch []domdoc.Replacement, remove []string) (int, error)
	AllChunksOrderedBySlot(ctx context.Context) ([]domain.Chunk, error)
}

// RunJournal records indexing runs.
type RunJournal interface {
	StartRun(ctx context.Context, run domain.IndexRun) error
	FinishRun(ctx context.Context, run domain.IndexRun) error
}

// Loader lists and chunks source documents.
type Loader interface {
	ListSupported(dir string) ([]string, error)
	Load(path string) []string
}

// Locker guards the store against other processes.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}
