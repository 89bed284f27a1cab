package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

const slotHighWaterKey = "slot_high_water"

// InsertChunks inserts chunks in one transaction. Each chunk gets a slot after
// the highest slot ever handed out by this store, so slots are never reused.
func (r *Repo) InsertChunks(ctx context.Context, chunks []domain.NewChunk) ([]domain.Chunk, error) {
	var out []domain.Chunk
	err := r.store.InTx(ctx, func(q db.Querier) error {
		var err error
		out, err = insertChunks(ctx, q, chunks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert %d chunks: %w", len(chunks), err)
	}
	return out, nil
}

// AllChunksOrderedBySlot returns every chunk by ascending slot, the rebuild input.
func (r *Repo) AllChunksOrderedBySlot(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, document_id, text, chunk_index, embedding_id
		FROM chunks ORDER BY embedding_id`)
	if err != nil {
		return nil, &db.Error{Op: db.OpSelectChunks, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.Position, &c.Slot); err != nil {
			return nil, &db.Error{Op: db.OpSelectChunks, Err: err}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpSelectChunks, Err: err}
	}
	return chunks, nil
}

// LookupChunkBySlot resolves a slot to its chunk text and owning document filename.
func (r *Repo) LookupChunkBySlot(ctx context.Context, slot int64) (text, documentName string, err error) {
	err = r.store.QueryRowContext(ctx, `
		SELECT c.text, d.filename
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.embedding_id = ?`, slot).Scan(&text, &documentName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", domain.ErrNotFound
	}
	if err != nil {
		return "", "", &db.Error{Op: db.OpSelectChunks, Err: err}
	}
	return text, documentName, nil
}

// Stats counts documents and chunks and reports the last run.
func (r *Repo) Stats(ctx context.Context) (domain.StoreStats, error) {
	var (
		st      domain.StoreStats
		maxSlot sql.NullInt64
	)
	err := r.store.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks), (SELECT MAX(embedding_id) FROM chunks)`).
		Scan(&st.Documents, &st.Chunks, &maxSlot)
	if err != nil {
		return domain.StoreStats{}, &db.Error{Op: db.OpSelectChunks, Err: err}
	}
	st.MaxSlot = -1
	if maxSlot.Valid {
		st.MaxSlot = maxSlot.Int64
	}

	last, err := r.LastRun(ctx)
	switch {
	case err == nil:
		st.LastRun = &last
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.StoreStats{}, err
	}
	return st, nil
}

func insertChunks(ctx context.Context, q db.Querier, chunks []domain.NewChunk) ([]domain.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	next, err := nextSlot(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		res, err := q.ExecContext(ctx,
			`INSERT INTO chunks (document_id, text, chunk_index, embedding_id) VALUES (?, ?, ?, ?)`,
			c.DocumentID, c.Text, c.Position, next)
		if err != nil {
			return nil, &db.Error{Op: db.OpInsertChunks, Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, &db.Error{Op: db.OpInsertChunks, Err: err}
		}
		out = append(out, domain.Chunk{
			ID: id, DocumentID: c.DocumentID, Text: c.Text, Position: c.Position, Slot: next,
		})
		next++
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		slotHighWaterKey, next-1)
	if err != nil {
		return nil, &db.Error{Op: db.OpNextSlot, Err: err}
	}
	return out, nil
}

// nextSlot is one past max(current max slot, high-water mark).
func nextSlot(ctx context.Context, q db.Querier) (int64, error) {
	var maxSlot, highWater sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(embedding_id) FROM chunks`).Scan(&maxSlot); err != nil {
		return 0, &db.Error{Op: db.OpNextSlot, Err: err}
	}
	err := q.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, slotHighWaterKey).Scan(&highWater)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, &db.Error{Op: db.OpNextSlot, Err: err}
	}

	next := int64(0)
	if maxSlot.Valid {
		next = maxSlot.Int64 + 1
	}
	if highWater.Valid && highWater.Int64+1 > next {
		next = highWater.Int64 + 1
	}
	return next, nil
}
