//go:build unix

package lock

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// TryLock takes an exclusive flock. The lock belongs to the open file,
// so a second TryLock in the same process also fails.
func (l *File) TryLock(_ context.Context) (func(), error) {
	f, err := l.open()
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd()) //nolint:gosec // fd fits in int
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", l.path, domain.ErrLocked)
		}
		return nil, fmt.Errorf("flock %s: %w", l.path, err)
	}
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
