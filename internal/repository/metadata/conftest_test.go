package metadata

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/db/sqlite"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "meta.db")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	return New(openStore(t))
}

func mustDoc(t *testing.T, path, hash string, chunks int) domdoc.Document {
	t.Helper()
	d, err := domdoc.New(path, hash, chunks, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

// failingStore wraps a real store and fails ExecContext inside transactions
// for statements containing failOn.
type failingStore struct {
	*sqlite.Store
	failOn string
	err    error
}

func (f *failingStore) InTx(ctx context.Context, fn func(q db.Querier) error) error {
	return f.Store.InTx(ctx, func(q db.Querier) error {
		return fn(&failingQuerier{Querier: q, failOn: f.failOn, err: f.err})
	})
}

type failingQuerier struct {
	db.Querier
	failOn string
	err    error
}

func (f *failingQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if strings.Contains(query, f.failOn) {
		return nil, f.err
	}
	return f.Querier.ExecContext(ctx, query, args...)
}
