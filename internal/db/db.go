// Package db holds the storage contracts shared by the concrete drivers.
package db

import (
	"context"
	"database/sql"
	"time"
)

// Querier runs statements against a connection or a transaction.
// Both *sql.DB and *sql.Tx satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SQLStore is a relational store with transactional access.
type SQLStore interface {
	Pinger
	Querier
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(q Querier) error) error
	Close() error
}

// Locker is the key-level primitive behind distributed locks.
type Locker interface {
	Pinger
	// SetNX stores value at key with ttl when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Refresh extends ttl when key still holds value.
	Refresh(ctx context.Context, key, value string, ttl time.Duration) error
	// Release deletes key when it still holds value.
	Release(ctx context.Context, key, value string) error
	Close()
}
