package metadata

import (
	"context"
	"database/sql"
	"errors"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// StartRun records a running indexing run.
func (r *Repo) StartRun(ctx context.Context, run domain.IndexRun) error {
	_, err := r.store.ExecContext(ctx, `
		INSERT INTO index_runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(domain.RunRunning), formatTime(run.StartedAt))
	if err != nil {
		return &db.Error{Op: db.OpRuns, Err: err}
	}
	return nil
}

// FinishRun stores the terminal state of a run.
func (r *Repo) FinishRun(ctx context.Context, run domain.IndexRun) error {
	_, err := r.store.ExecContext(ctx, `
		UPDATE index_runs
		SET status = ?, finished_at = ?, new_chunks = ?, total_chunks = ?, error = ?
		WHERE id = ?`,
		string(run.Status), formatTime(run.FinishedAt), run.NewChunks, run.TotalChunks, run.Error, run.ID)
	if err != nil {
		return &db.Error{Op: db.OpRuns, Err: err}
	}
	return nil
}

// LastRun returns the most recently started run.
func (r *Repo) LastRun(ctx context.Context) (domain.IndexRun, error) {
	var (
		run          domain.IndexRun
		kind, status string
		started      string
		finished     sql.NullString
	)
	err := r.store.QueryRowContext(ctx, `
		SELECT id, kind, status, started_at, finished_at, new_chunks, total_chunks, error
		FROM index_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).
		Scan(&run.ID, &kind, &status, &started, &finished, &run.NewChunks, &run.TotalChunks, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IndexRun{}, &db.Error{Op: db.OpRuns, Err: err}
	}

	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return domain.IndexRun{}, &db.Error{Op: db.OpRuns, Err: err}
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return domain.IndexRun{}, &db.Error{Op: db.OpRuns, Err: err}
		}
	}
	return run, nil
}
