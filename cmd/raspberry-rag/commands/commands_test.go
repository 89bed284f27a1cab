package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

// writeConfig lays out a project root with config/test.yaml using the
// hashing embedder and returns the config path and documents directory.
func writeConfig(t *testing.T, port int) (string, string) {
	t.Helper()
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	for _, d := range []string{docs, filepath.Join(root, "config")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	yml := fmt.Sprintf(`documents_path: docs
index:
  vector_path: data/vectors.bin
  db_path: data/meta.db
chunker:
  size: 40
  overlap: 5
embedder:
  type: hashing
  hashing:
    dimensions: 64
watcher:
  poll_interval_sec: 1
http:
  port: %d
logging:
  level: error
`, port)
	path := filepath.Join(root, "config", "test.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, docs
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	path, docs := writeConfig(t, 8088)
	app, err := NewApp(context.Background(), "local", path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(app.Close)
	return app, docs
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if err != nil {
		return -1
	}
	return ExitOK
}

func TestRunIndex_NoDocuments(t *testing.T) {
	app, docs := newTestApp(t)
	var out bytes.Buffer

	err := runIndex(context.Background(), app, docs, false, &out)
	if code := exitCode(err); code != ExitNoDocuments {
		t.Fatalf("exit code = %d, want %d (err %v)", code, ExitNoDocuments, err)
	}
}

func TestRunIndex_ThenSearchAndStats(t *testing.T) {
	app, docs := newTestApp(t)
	ctx := context.Background()
	text := "Machine learning is a field of study. It focuses on algorithms."
	if err := os.WriteFile(filepath.Join(docs, "a.txt"), []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runIndex(ctx, app, docs, false, &out); err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Indexed 2 chunks") {
		t.Errorf("unexpected output %q", out.String())
	}

	results, err := app.Retriever.SearchText(ctx, "Machine learning is a field of study.", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentName != "a.txt" {
		t.Fatalf("unexpected results %+v", results)
	}

	out.Reset()
	if err := runIndex(ctx, app, docs, true, &out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	st, _ := app.Repo.Stats(ctx)
	list, _ := app.Repo.ListDocuments(ctx)
	out.Reset()
	printStats(&out, st, list, 2)
	for _, want := range []string{"Documents: 1", "Chunks:    2", "a.txt", "rebuild succeeded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("stats output missing %q:\n%s", want, out.String())
		}
	}
}

func TestExitError(t *testing.T) {
	if code := exitCode(exitError(fmt.Errorf("index: %w", domain.ErrNoDocuments))); code != ExitNoDocuments {
		t.Errorf("no documents: exit %d", code)
	}
	if code := exitCode(exitError(errors.New("embedding server down"))); code != ExitFailure {
		t.Errorf("failure: exit %d", code)
	}
}

func TestPrintResults(t *testing.T) {
	var out bytes.Buffer
	_ = printResults(&out, nil, false)
	if out.String() != "No results\n" {
		t.Errorf("got %q", out.String())
	}

	out.Reset()
	_ = printResults(&out, nil, true)
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("json empty = %q", out.String())
	}

	out.Reset()
	_ = printResults(&out, []domain.SearchResult{{Text: "hi", Score: 0.5, DocumentName: "a.txt"}}, false)
	if out.String() != "1. [0.500] a.txt\n   hi\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestPrintStats_Empty(t *testing.T) {
	var out bytes.Buffer
	printStats(&out, domain.StoreStats{MaxSlot: -1}, []domdoc.Document{}, 0)
	if strings.Contains(out.String(), "FILE") || strings.Contains(out.String(), "Last run") {
		t.Errorf("unexpected sections:\n%s", out.String())
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	path, _ := writeConfig(t, port)
	app, err := NewApp(context.Background(), "local", path)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, app, true) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // test
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRootCommand_Version(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.Writer = &out
	if err := root.Run(context.Background(), []string{"raspberry-rag", "version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "raspberry-rag ") {
		t.Errorf("got %q", out.String())
	}
}
