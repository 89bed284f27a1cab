// Package loader extracts plain text from supported document files and chunks it.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/domain/document"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
)

// Splitter cuts extracted text into chunks.
type Splitter interface {
	Split(text string) []string
}

// Loader turns files into chunk sequences.
type Loader struct {
	splitter   Splitter
	logger     *zap.Logger
	ignoreFile string
}

// Option configures a Loader.
type Option func(*Loader)

// WithIgnoreFile sets the name of the gitignore-style file looked up in listed directories.
// An empty name disables ignore handling.
func WithIgnoreFile(name string) Option {
	return func(l *Loader) { l.ignoreFile = name }
}

// New creates a Loader.
func New(splitter Splitter, logger *zap.Logger, opts ...Option) *Loader {
	l := &Loader{
		splitter:   splitter,
		logger:     logger,
		ignoreFile: DefaultIgnoreFile,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load extracts and chunks the file at path.
// Unsupported or unreadable files yield no chunks; the failure is logged, never returned.
func (l *Loader) Load(path string) []string {
	format, ok := document.FormatOf(path)
	if !ok {
		l.logger.Warn("unsupported document format, skipping", zap.String("path", path))
		return nil
	}

	text, err := Extract(path)
	if err != nil {
		metrics.LoaderFailuresTotal.WithLabelValues(string(format)).Inc()
		l.logger.Error("text extraction failed",
			zap.String("path", path),
			zap.String("format", string(format)),
			zap.Error(err),
		)
		return nil
	}
	return l.splitter.Split(text)
}

// ListSupported returns absolute paths of the regular files directly inside dir
// with a supported extension, sorted. Files matched by the ignore file are left out.
func (l *Loader) ListSupported(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", abs, err)
	}

	ignore, err := l.loadIgnore(abs)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := document.FormatOf(e.Name()); !ok {
			continue
		}
		if ignore.match(e.Name()) {
			l.logger.Debug("ignored by pattern", zap.String("file", e.Name()))
			continue
		}
		paths = append(paths, filepath.Join(abs, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Extract returns the plain text of the file at path, dispatching on its extension.
func Extract(path string) (string, error) {
	format, _ := document.FormatOf(path)
	switch format {
	case document.FormatTXT:
		return extractText(path)
	case document.FormatPDF:
		return extractPDF(path)
	case document.FormatDOCX:
		return extractDOCX(path)
	default:
		return "", fmt.Errorf("%s: %w", path, domain.ErrUnsupportedFormat)
	}
}
