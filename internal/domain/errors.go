package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document row.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoDocuments signals that the documents directory holds nothing indexable.
	ErrNoDocuments = errors.New("no documents found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrIndexCorrupt signals an unreadable vector index file.
	ErrIndexCorrupt = errors.New("vector index corrupt")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrClientNotLoaded signals Embed on an unloaded embedding client.
	ErrClientNotLoaded = errors.New("embedding client not loaded")
	// ErrLocked signals that another indexing run holds the store.
	ErrLocked = errors.New("indexing already in progress")
	// ErrUnsupportedFormat signals a file extension without an extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// DimMismatchError wraps ErrVectorDimMismatch with both dimensions.
type DimMismatchError struct {
	Want int
	Got  int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrVectorDimMismatch.Error(), e.Want, e.Got)
}

func (e *DimMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimMismatch creates a dimension mismatch error.
func NewDimMismatch(want, got int) error {
	return &DimMismatchError{Want: want, Got: got}
}
