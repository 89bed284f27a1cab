package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

type mockLocker struct {
	mu       sync.Mutex
	setNXFn  func(key, value string, ttl time.Duration) (bool, error)
	holder   string
	refresh  int
	released []string
}

func (m *mockLocker) Ping(context.Context) error { return nil }
func (m *mockLocker) Close()                     {}

func (m *mockLocker) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setNXFn != nil {
		return m.setNXFn(key, value, ttl)
	}
	if m.holder != "" {
		return false, nil
	}
	m.holder = value
	return true, nil
}

func (m *mockLocker) Refresh(_ context.Context, _, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh++
	if m.holder != value {
		return db.ErrNotHeld
	}
	return nil
}

func (m *mockLocker) Release(_ context.Context, _, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, value)
	if m.holder != value {
		return db.ErrNotHeld
	}
	m.holder = ""
	return nil
}

func TestRedis_AcquireRelease(t *testing.T) {
	store := &mockLocker{}
	l := NewRedis(store, "rag:lock", time.Minute, zap.NewNop())
	ctx := context.Background()

	unlock, err := l.TryLock(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.TryLock(ctx); !errors.Is(err, domain.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	unlock()
	unlock() // второй вызов ничего не делает
	if len(store.released) != 1 {
		t.Errorf("released %d times, want 1", len(store.released))
	}

	unlock, err = l.TryLock(ctx)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	unlock()
}

func TestRedis_SetNXError(t *testing.T) {
	boom := errors.New("connection refused")
	store := &mockLocker{setNXFn: func(string, string, time.Duration) (bool, error) { return false, boom }}
	_, err := NewRedis(store, "k", 0, nil).TryLock(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestRedis_RefreshesWhileHeld(t *testing.T) {
	store := &mockLocker{}
	l := NewRedis(store, "k", 30*time.Millisecond, zap.NewNop())

	unlock, err := l.TryLock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	unlock()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.refresh == 0 {
		t.Error("expected at least one refresh")
	}
}

func TestNop(t *testing.T) {
	unlock, err := Nop{}.TryLock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	unlock()
}
