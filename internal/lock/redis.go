package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/db"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// DefaultTTL bounds how long a crashed holder keeps the lock.
const DefaultTTL = 30 * time.Second

var _ Locker = (*Redis)(nil)

// Redis is a lease lock on a key shared by every host indexing the same store.
// The lease is refreshed at a third of its TTL while held.
type Redis struct {
	store  db.Locker
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis creates a lock on key. ttl <= 0 selects DefaultTTL.
func NewRedis(store db.Locker, key string, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{store: store, key: key, ttl: ttl, logger: logger}
}

// TryLock sets the key with a fresh token when absent.
func (l *Redis) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", l.key, domain.ErrLocked)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.store.Release(ctx, l.key, token); err != nil {
				l.logger.Warn("Lock release failed", zap.String("key", l.key), zap.Error(err))
			}
		})
	}, nil
}

func (l *Redis) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.store.Refresh(ctx, l.key, token, l.ttl)
			cancel()
			if errors.Is(err, db.ErrNotHeld) {
				l.logger.Error("Lock lease lost", zap.String("key", l.key))
				return
			}
			if err != nil {
				l.logger.Warn("Lock refresh failed", zap.String("key", l.key), zap.Error(err))
			}
		}
	}
}
