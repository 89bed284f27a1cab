package domain

import "time"

// Chunk is a stored text span of a document.
type Chunk struct {
	ID         int64 // row id, unrelated to Slot
	DocumentID string
	Text       string
	Position   int   // ordinal within the document
	Slot       int64 // embedding slot, unique store-wide and never reused
}

// NewChunk is a chunk queued for insertion; the store assigns ID and Slot.
type NewChunk struct {
	DocumentID string
	Text       string
	Position   int
}

// Hit is a raw vector index match.
type Hit struct {
	Slot  int64
	Score float32
}

// SearchResult is a resolved retrieval hit handed to answer generation.
type SearchResult struct {
	Text         string  `json:"text"`
	Score        float32 `json:"score"`
	DocumentName string  `json:"document_name"`
}

// RunKind names what started an indexing run.
type RunKind string

const (
	// RunKindDirectory is a full directory pass.
	RunKindDirectory RunKind = "directory"
	// RunKindRemove is a single document removal.
	RunKindRemove RunKind = "remove"
	// RunKindRebuild is a forced full rebuild.
	RunKindRebuild RunKind = "rebuild"
)

// RunStatus is the terminal state of an indexing run.
type RunStatus string

const (
	// RunRunning marks a run that has not finished (or crashed).
	RunRunning RunStatus = "running"
	// RunSucceeded marks a run whose rebuild was persisted.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed marks a run that aborted.
	RunFailed RunStatus = "failed"
)

// IndexRun is a journal entry for one indexing operation.
type IndexRun struct {
	ID          string
	Kind        RunKind
	Status      RunStatus
	StartedAt   time.Time
	FinishedAt  time.Time
	NewChunks   int
	TotalChunks int
	Error       string
}

// StoreStats summarizes the metadata store.
type StoreStats struct {
	Documents int
	Chunks    int
	MaxSlot   int64 // -1 when empty
	LastRun   *IndexRun
}
