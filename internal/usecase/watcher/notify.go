package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of file events into one wake-up.
const DefaultDebounce = 1500 * time.Millisecond

// startNotifier watches dir and sends on the returned channel once events
// settle for debounce. It stops when ctx ends.
func startNotifier(ctx context.Context, dir string, debounce time.Duration, logger *zap.Logger) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer func() { _ = fw.Close() }()
		timer := time.NewTimer(0)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					timer.Reset(debounce)
				}
			case <-timer.C:
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("File notification error", zap.Error(err))
			}
		}
	}()
	return wake, nil
}
