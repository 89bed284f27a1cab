//go:build unix

package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

func TestFile_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index.lock")
	ctx := context.Background()

	unlock, err := NewFile(path).TryLock(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewFile(path).TryLock(ctx); !errors.Is(err, domain.ErrLocked) {
		t.Fatalf("expected ErrLocked while held, got %v", err)
	}

	unlock()
	again, err := NewFile(path).TryLock(ctx)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}
