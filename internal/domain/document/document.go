package document

import (
	"crypto/md5" //nolint:gosec // identity digest, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format is the extraction format tag of a source file.
type Format string

const (
	// FormatTXT is UTF-8 plain text.
	FormatTXT Format = "txt"
	// FormatPDF is a PDF document.
	FormatPDF Format = "pdf"
	// FormatDOCX is an Office Open XML word-processor document.
	FormatDOCX Format = "docx"
)

// FormatOf returns the format for path by its lowercase extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return FormatTXT, true
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDOCX, true
	default:
		return "", false
	}
}

// IDFor derives the stable document id from a file path.
// The id depends only on the path string, never on content.
func IDFor(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// HashContent returns the hex SHA-256 digest of b.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Document is an indexed source file (immutable value object).
type Document struct {
	id         string
	filename   string
	path       string
	format     Format
	hash       string
	indexedAt  time.Time
	chunkCount int
}

// New validates and creates a Document for the file at path.
func New(path, hash string, chunkCount int, indexedAt time.Time) (Document, error) {
	if path == "" {
		return Document{}, fmt.Errorf("document path is required")
	}
	format, ok := FormatOf(path)
	if !ok {
		return Document{}, fmt.Errorf("document %s: unsupported extension %q", path, filepath.Ext(path))
	}
	if hash == "" {
		return Document{}, fmt.Errorf("document %s: content hash is required", path)
	}
	if chunkCount < 0 {
		return Document{}, fmt.Errorf("document %s: negative chunk count", path)
	}
	return Document{
		id:         IDFor(path),
		filename:   filepath.Base(path),
		path:       path,
		format:     format,
		hash:       hash,
		indexedAt:  indexedAt.UTC(),
		chunkCount: chunkCount,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id, filename, path string, format Format, hash string, indexedAt time.Time, chunkCount int,
) Document {
	return Document{
		id: id, filename: filename, path: path, format: format,
		hash: hash, indexedAt: indexedAt, chunkCount: chunkCount,
	}
}

// ID returns the path-derived identifier.
func (d *Document) ID() string { return d.id }

// Filename returns the base name shown to answer generation.
func (d *Document) Filename() string { return d.filename }

// Path returns the absolute file path.
func (d *Document) Path() string { return d.path }

// Format returns the extraction format tag.
func (d *Document) Format() Format { return d.format }

// Hash returns the content hash at the last successful index.
func (d *Document) Hash() string { return d.hash }

// IndexedAt returns the time of the last successful index.
func (d *Document) IndexedAt() time.Time { return d.indexedAt }

// ChunkCount returns the number of chunks stored for the document.
func (d *Document) ChunkCount() int { return d.chunkCount }

// Replacement is a document together with the chunk texts that replace its stored ones.
type Replacement struct {
	Document Document
	Chunks   []string
}
