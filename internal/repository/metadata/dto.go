package metadata

import (
	"time"

	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

const selectDocument = `
	SELECT id, filename, filepath, format, hash, indexed_at, chunk_count
	FROM documents`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (domdoc.Document, error) {
	var (
		id, filename, path, format, hash, indexedAt string
		chunkCount                                  int
	)
	if err := s.Scan(&id, &filename, &path, &format, &hash, &indexedAt, &chunkCount); err != nil {
		return domdoc.Document{}, err //nolint:wrapcheck // wrapped by caller
	}
	at, err := parseTime(indexedAt)
	if err != nil {
		return domdoc.Document{}, err
	}
	return domdoc.Reconstruct(id, filename, path, domdoc.Format(format), hash, at, chunkCount), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s) //nolint:wrapcheck // wrapped by caller
}
