package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/r9zhenka/raspberry-rag/internal/db"
)

// Both scripts act only while the key still holds the caller's token.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
)

// SetNX stores value at key with ttl unless the key exists.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd := s.b().Set().Key(key).Value(value).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	err := s.do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}
	if err != nil {
		return false, &db.Error{Op: db.OpSetNX, Err: err}
	}
	return true, nil
}

// Refresh extends the ttl of key when it still holds value.
func (s *Store) Refresh(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := s.b().Eval().Script(refreshScript).Numkeys(1).Key(key).
		Arg(value, strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return &db.Error{Op: db.OpRefresh, Err: err}
	}
	if n == 0 {
		return db.ErrNotHeld
	}
	return nil
}

// Release deletes key when it still holds value.
func (s *Store) Release(ctx context.Context, key, value string) error {
	cmd := s.b().Eval().Script(releaseScript).Numkeys(1).Key(key).Arg(value).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return &db.Error{Op: db.OpRelease, Err: err}
	}
	if n == 0 {
		return db.ErrNotHeld
	}
	return nil
}
