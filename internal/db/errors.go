package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrNoRows      = errors.New("db: no rows")
	ErrKeyNotFound = errors.New("db: key not found")
	ErrNotHeld     = errors.New("db: lock not held")
)

// Op names the failed statement group for error context.
const (
	OpOpen         = "OPEN"
	OpMigrate      = "MIGRATE"
	OpPing         = "PING"
	OpBegin        = "BEGIN"
	OpCommit       = "COMMIT"
	OpSelectDoc    = "SELECT documents"
	OpUpsertDoc    = "UPSERT documents"
	OpDeleteDoc    = "DELETE documents"
	OpSelectChunks = "SELECT chunks"
	OpInsertChunks = "INSERT chunks"
	OpDeleteChunks = "DELETE chunks"
	OpNextSlot     = "NEXT slot"
	OpRuns         = "index_runs"
	OpSetNX        = "SET NX"
	OpRelease      = "EVAL release"
	OpRefresh      = "EVAL refresh"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
