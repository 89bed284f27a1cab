//go:build !unix && !windows

package lock

import "context"

// TryLock only creates the file; the platform has no advisory locks.
func (l *File) TryLock(_ context.Context) (func(), error) {
	f, err := l.open()
	if err != nil {
		return nil, err
	}
	return func() { _ = f.Close() }, nil
}
