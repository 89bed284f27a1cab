package retriever

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/chunker"
	"github.com/r9zhenka/raspberry-rag/internal/db/sqlite"
	"github.com/r9zhenka/raspberry-rag/internal/embedder/hashing"
	"github.com/r9zhenka/raspberry-rag/internal/loader"
	"github.com/r9zhenka/raspberry-rag/internal/repository/metadata"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
)

func TestIndexThenSearch(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	_ = os.MkdirAll(docs, 0o755)
	text := "Machine learning is a field of study. It focuses on algorithms."
	if err := os.WriteFile(filepath.Join(docs, "a.txt"), []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(root, "meta.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	repo := metadata.New(store)
	splitter, _ := chunker.New(40, 5)
	client := hashing.New(64)
	indexPath := filepath.Join(root, "index.bin")

	svc := indexer.New(repo, loader.New(splitter, zap.NewNop()), client, indexPath)
	rep, err := svc.IndexDirectory(ctx, docs)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if rep.TotalChunks != 2 {
		t.Fatalf("total chunks = %d, want 2", rep.TotalChunks)
	}

	first := "Machine learning is a field of study."
	_ = client.Load(ctx)
	q, _ := client.Embed(ctx, []string{first})
	_ = client.Unload(ctx)

	res, err := New(repo, indexPath).Search(ctx, q[0], 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Text != first || res[0].DocumentName != "a.txt" {
		t.Fatalf("unexpected results %+v", res)
	}
	if res[0].Score < 0.999 {
		t.Errorf("score = %f, want ~1", res[0].Score)
	}
}

func TestEmptyStoreSearch(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "meta.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	res, err := New(metadata.New(store), filepath.Join(t.TempDir(), "index.bin")).
		Search(ctx, make([]float32, 312), 3)
	if err != nil || len(res) != 0 {
		t.Errorf("expected empty result, got %v %v", res, err)
	}
}
