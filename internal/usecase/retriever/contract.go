package retriever

import "context"

// ChunkResolver maps an embedding slot back to its chunk.
type ChunkResolver interface {
	// LookupChunkBySlot returns domain.ErrNotFound for an unknown slot.
	LookupChunkBySlot(ctx context.Context, slot int64) (text, documentName string, err error)
}
