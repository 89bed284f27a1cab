// Package watcher polls the documents directory and drives the indexer when
// the set of files or their contents change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
)

// DefaultInterval matches the poll period of the assistant daemon.
const DefaultInterval = 60 * time.Second

// Snapshot maps absolute file paths to content hashes.
type Snapshot map[string]string

// Changes is the difference between two snapshots. Paths are sorted.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares cur against prev.
func Diff(prev, cur Snapshot) Changes {
	var ch Changes
	for p, h := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			ch.Added = append(ch.Added, p)
		case old != h:
			ch.Changed = append(ch.Changed, p)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			ch.Removed = append(ch.Removed, p)
		}
	}
	slices.Sort(ch.Added)
	slices.Sort(ch.Removed)
	slices.Sort(ch.Changed)
	return ch
}

// Watcher holds the last successfully handled snapshot.
type Watcher struct {
	dir      string
	indexer  Indexer
	lister   Lister
	interval time.Duration
	notify   bool
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex // one check at a time
	snapshot Snapshot
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option { return func(w *Watcher) { w.interval = d } }

// WithNotify wakes the watcher on file system events, debounced by d,
// in addition to the poll ticker.
func WithNotify(d time.Duration) Option {
	return func(w *Watcher) {
		w.notify = true
		w.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New creates a watcher for dir.
func New(dir string, idx Indexer, lister Lister, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		indexer:  idx,
		lister:   lister,
		interval: DefaultInterval,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	return w
}

// Prime replaces the snapshot with a fresh scan without indexing anything.
func (w *Watcher) Prime(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap, err := w.scan(ctx)
	if err != nil {
		return err
	}
	w.snapshot = snap
	return nil
}

// Snapshot returns a copy of the current snapshot.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.snapshot)
}

// CheckOnce scans the directory and hands any change to the indexer: every
// removed path is removed, then one directory pass covers all added and
// changed files. The snapshot is replaced only when all of that succeeds.
func (w *Watcher) CheckOnce(ctx context.Context) (Changes, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur, err := w.scan(ctx)
	if err != nil {
		metrics.WatcherTicksTotal.WithLabelValues("failed").Inc()
		return Changes{}, err
	}
	ch := Diff(w.snapshot, cur)
	if ch.Empty() {
		metrics.WatcherTicksTotal.WithLabelValues("unchanged").Inc()
		return ch, nil
	}

	w.logger.Info("Document changes detected",
		zap.Int("added", len(ch.Added)),
		zap.Int("removed", len(ch.Removed)),
		zap.Int("changed", len(ch.Changed)),
	)

	if err := w.apply(ctx, ch); err != nil {
		metrics.WatcherTicksTotal.WithLabelValues("failed").Inc()
		return ch, err
	}
	w.snapshot = cur
	metrics.WatcherTicksTotal.WithLabelValues("handled").Inc()
	return ch, nil
}

func (w *Watcher) apply(ctx context.Context, ch Changes) error {
	for _, p := range ch.Removed {
		if _, err := w.indexer.RemoveDocument(ctx, p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	if len(ch.Added)+len(ch.Changed) > 0 {
		if _, err := w.indexer.IndexDirectory(ctx, w.dir); err != nil {
			return fmt.Errorf("index %s: %w", w.dir, err)
		}
	}
	return nil
}

// Run primes the snapshot when needed and checks on every tick until ctx ends.
// Check failures are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	primed := w.snapshot != nil
	w.mu.Unlock()
	if !primed {
		if err := w.Prime(ctx); err != nil {
			return fmt.Errorf("initial scan: %w", err)
		}
	}

	var wake <-chan struct{}
	if w.notify {
		n, err := startNotifier(ctx, w.dir, w.debounce, w.logger)
		if err != nil {
			w.logger.Warn("File notifications unavailable, polling only", zap.Error(err))
		} else {
			wake = n
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("Document watcher started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval),
		zap.Bool("notify", wake != nil),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Document watcher stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		case <-wake:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if _, err := w.CheckOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Document watcher check failed", zap.Error(err))
	}
}

// scan hashes every supported file. A missing directory scans as empty.
// A file that cannot be hashed keeps its previous hash so it is not reported as removed.
func (w *Watcher) scan(ctx context.Context) (Snapshot, error) {
	paths, err := w.lister.ListSupported(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", w.dir, err)
	}

	snap := make(Snapshot, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // context error
		}
		h, err := domdoc.HashFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			w.logger.Warn("Cannot hash document", zap.String("path", p), zap.Error(err))
			if old, ok := w.snapshot[p]; ok {
				snap[p] = old
			}
			continue
		}
		snap[p] = h
	}
	return snap, nil
}
