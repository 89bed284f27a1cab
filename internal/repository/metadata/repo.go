// Package metadata is the authoritative store of documents, chunks and embedding slots.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

// Repo implements the metadata store over a db.SQLStore.
type Repo struct {
	store db.SQLStore
}

// New creates a metadata repository.
func New(s db.SQLStore) *Repo {
	return &Repo{store: s}
}

// Ping checks the underlying database.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx) //nolint:wrapcheck // already a db.Error
}

// GetDocument returns the document row for id.
func (r *Repo) GetDocument(ctx context.Context, id string) (domdoc.Document, error) {
	row := r.store.QueryRowContext(ctx, selectDocument+` WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return domdoc.Document{}, &db.Error{Op: db.OpSelectDoc, Err: err}
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by path.
func (r *Repo) ListDocuments(ctx context.Context) ([]domdoc.Document, error) {
	rows, err := r.store.QueryContext(ctx, selectDocument+` ORDER BY filepath`)
	if err != nil {
		return nil, &db.Error{Op: db.OpSelectDoc, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var docs []domdoc.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &db.Error{Op: db.OpSelectDoc, Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpSelectDoc, Err: err}
	}
	return docs, nil
}

// UpsertDocument inserts or replaces the document row by id.
func (r *Repo) UpsertDocument(ctx context.Context, doc domdoc.Document) error {
	return upsertDocument(ctx, r.store, doc)
}

// DeleteDocumentAndChunks removes the document and all its chunks atomically.
// Deleting an unknown id is not an error.
func (r *Repo) DeleteDocumentAndChunks(ctx context.Context, id string) error {
	err := r.store.InTx(ctx, func(q db.Querier) error {
		return deleteDocument(ctx, q, id)
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ReplaceDocuments writes every replacement in one transaction: old chunks are
// dropped, the document row is upserted and the new chunks get fresh slots.
// It returns the number of chunks inserted.
func (r *Repo) ReplaceDocuments(ctx context.Context, batch []domdoc.Replacement) (int, error) {
	return r.ApplyChanges(ctx, batch, nil)
}

// ApplyChanges removes the documents in remove and writes the replacements in
// a single transaction, so a failure leaves the store as it was.
// It returns the number of chunks inserted.
func (r *Repo) ApplyChanges(ctx context.Context, batch []domdoc.Replacement, remove []string) (int, error) {
	inserted := 0
	err := r.store.InTx(ctx, func(q db.Querier) error {
		inserted = 0
		for _, id := range remove {
			if err := deleteDocument(ctx, q, id); err != nil {
				return err
			}
		}
		for _, rep := range batch {
			id := rep.Document.ID()
			if err := deleteDocument(ctx, q, id); err != nil {
				return err
			}
			if err := upsertDocument(ctx, q, rep.Document); err != nil {
				return err
			}
			news := make([]domain.NewChunk, len(rep.Chunks))
			for i, text := range rep.Chunks {
				news[i] = domain.NewChunk{DocumentID: id, Text: text, Position: i}
			}
			if _, err := insertChunks(ctx, q, news); err != nil {
				return err
			}
			inserted += len(news)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply %d replacements, %d removals: %w", len(batch), len(remove), err)
	}
	return inserted, nil
}

func upsertDocument(ctx context.Context, q db.Querier, doc domdoc.Document) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, filename, filepath, format, hash, indexed_at, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			filepath = excluded.filepath,
			format = excluded.format,
			hash = excluded.hash,
			indexed_at = excluded.indexed_at,
			chunk_count = excluded.chunk_count`,
		doc.ID(), doc.Filename(), doc.Path(), string(doc.Format()), doc.Hash(),
		formatTime(doc.IndexedAt()), doc.ChunkCount(),
	)
	if err != nil {
		return &db.Error{Op: db.OpUpsertDoc, Err: err}
	}
	return nil
}

func deleteDocument(ctx context.Context, q db.Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return &db.Error{Op: db.OpDeleteChunks, Err: err}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return &db.Error{Op: db.OpDeleteDoc, Err: err}
	}
	return nil
}
