//go:build windows

package lock

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// TryLock takes an exclusive byte-range lock on the file.
func (l *File) TryLock(_ context.Context) (func(), error) {
	f, err := l.open()
	if err != nil {
		return nil, err
	}
	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(h, flags, 0, 1, 0, ol); err != nil {
		_ = f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, fmt.Errorf("%s: %w", l.path, domain.ErrLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", l.path, err)
	}
	return func() {
		_ = windows.UnlockFileEx(h, 0, 1, 0, ol)
		_ = f.Close()
	}, nil
}
