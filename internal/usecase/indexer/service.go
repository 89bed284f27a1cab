// Package indexer keeps the metadata store and the vector index in agreement
// with the contents of a documents directory.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
	"github.com/r9zhenka/raspberry-rag/internal/lock"
	"github.com/r9zhenka/raspberry-rag/internal/logger"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/embedding"
	"github.com/r9zhenka/raspberry-rag/internal/vectorindex"
)

// Report summarizes one indexing run.
type Report struct {
	RunID        string `json:"run_id"`
	FilesSeen    int    `json:"files_seen"`
	FilesSkipped int    `json:"files_skipped"` // hash unchanged
	FilesIndexed int    `json:"files_indexed"`
	FilesFailed  int    `json:"files_failed"` // unreadable or no text
	Removed      int    `json:"removed"`
	NewChunks    int    `json:"new_chunks"`
	TotalChunks  int    `json:"total_chunks"`
	Rebuilt      bool   `json:"rebuilt"`
}

// Service runs at most one indexing operation at a time.
type Service struct {
	store      MetadataStore
	journal    RunJournal
	loader     Loader
	client     *embedding.InstrumentedClient
	locker     Locker
	indexPath  string
	defaultDim int
	batchSize  int
	sem        *semaphore.Weighted
	logger     *zap.Logger
	now        func() time.Time
	onRebuild  []func(Report)
}

// Option configures a Service.
type Option func(*Service)

// WithLocker adds a cross-process lock taken for every run.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithJournal overrides the run journal. By default the store is used when it implements RunJournal.
func WithJournal(j RunJournal) Option { return func(s *Service) { s.journal = j } }

// WithDefaultDim sets the dimension of an index built from an empty store.
func WithDefaultDim(dim int) Option { return func(s *Service) { s.defaultDim = dim } }

// WithBatchSize sets how many texts go to the embedding client per call.
func WithBatchSize(n int) Option { return func(s *Service) { s.batchSize = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithOnRebuild registers a callback invoked after every persisted rebuild.
func WithOnRebuild(fn func(Report)) Option {
	return func(s *Service) { s.onRebuild = append(s.onRebuild, fn) }
}

// New creates an indexer writing the vector index to indexPath.
func New(store MetadataStore, loader Loader, client domain.EmbeddingClient, indexPath string, opts ...Option) *Service {
	s := &Service{
		store:      store,
		loader:     loader,
		locker:     lock.Nop{},
		indexPath:  indexPath,
		defaultDim: vectorindex.DefaultDim,
		batchSize:  embedding.DefaultBatchSize,
		sem:        semaphore.NewWeighted(1),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	if j, ok := store.(RunJournal); ok {
		s.journal = j
	} else {
		s.journal = noJournal{}
	}
	for _, o := range opts {
		o(s)
	}
	s.client = embedding.NewInstrumentedClient(client, "indexer", s.batchSize, s.logger)
	return s
}

// IndexPath returns the vector index file path.
func (s *Service) IndexPath() string { return s.indexPath }

// IndexDirectory brings the store and the index in line with dir.
// Unchanged files are skipped by content hash; changed and new files are
// re-chunked, embedded and stored, then the whole index is rebuilt.
// A directory without supported files yields domain.ErrNoDocuments.
func (s *Service) IndexDirectory(ctx context.Context, dir string) (Report, error) {
	return s.run(ctx, domain.RunKindDirectory, func(ctx context.Context, rep *Report) error {
		return s.indexDirectory(ctx, dir, rep)
	})
}

// AddDocument reindexes the directory holding path.
func (s *Service) AddDocument(ctx context.Context, path string) (Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Report{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return s.IndexDirectory(ctx, filepath.Dir(abs))
}

// RemoveDocument deletes the document stored for path and rebuilds the index.
// Removing an unknown path still rebuilds.
func (s *Service) RemoveDocument(ctx context.Context, path string) (Report, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Report{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return s.run(ctx, domain.RunKindRemove, func(ctx context.Context, rep *Report) error {
		if err := s.store.DeleteDocumentAndChunks(ctx, domdoc.IDFor(abs)); err != nil {
			return fmt.Errorf("remove %s: %w", abs, err)
		}
		rep.Removed = 1
		logger.FromContext(ctx).Info("Document removed", zap.String("path", abs))
		return s.rebuildFromStore(ctx, rep)
	})
}

// Rebuild re-embeds every stored chunk and replaces the index file.
func (s *Service) Rebuild(ctx context.Context) (Report, error) {
	return s.run(ctx, domain.RunKindRebuild, s.rebuildFromStore)
}

func (s *Service) run(
	ctx context.Context, kind domain.RunKind, fn func(ctx context.Context, rep *Report) error,
) (Report, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Report{}, fmt.Errorf("wait for running index: %w", err)
	}
	defer s.sem.Release(1)

	unlock, err := s.locker.TryLock(ctx)
	if err != nil {
		metrics.IndexRunsTotal.WithLabelValues(string(kind), "locked").Inc()
		return Report{}, fmt.Errorf("acquire index lock: %w", err)
	}
	defer unlock()

	rep := Report{RunID: uuid.NewString()}
	ctx, log := logger.With(ctx, s.logger, zap.String("run_id", rep.RunID), zap.String("kind", string(kind)))

	run := domain.IndexRun{ID: rep.RunID, Kind: kind, Status: domain.RunRunning, StartedAt: s.now()}
	if err := s.journal.StartRun(ctx, run); err != nil {
		return rep, fmt.Errorf("start run: %w", err)
	}

	err = fn(ctx, &rep)

	run.FinishedAt = s.now()
	run.NewChunks, run.TotalChunks = rep.NewChunks, rep.TotalChunks
	run.Status = domain.RunSucceeded
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
	}
	if jerr := s.journal.FinishRun(context.WithoutCancel(ctx), run); jerr != nil {
		log.Warn("Failed to record run result", zap.Error(jerr))
	}

	duration := run.FinishedAt.Sub(run.StartedAt)
	metrics.IndexRunsTotal.WithLabelValues(string(kind), string(run.Status)).Inc()
	metrics.IndexRunDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())

	if err != nil {
		level := log.Error
		if errors.Is(err, domain.ErrNoDocuments) {
			level = log.Warn
		}
		level("Indexing run failed", zap.Duration("duration", duration), zap.Error(err))
		return rep, err
	}

	log.Info("Indexing run finished",
		zap.Duration("duration", duration),
		zap.Int("files_seen", rep.FilesSeen),
		zap.Int("files_skipped", rep.FilesSkipped),
		zap.Int("new_chunks", rep.NewChunks),
		zap.Int("total_chunks", rep.TotalChunks),
		zap.Bool("rebuilt", rep.Rebuilt),
	)
	if rep.Rebuilt {
		for _, cb := range s.onRebuild {
			cb(rep)
		}
	}
	return rep, nil
}

func (s *Service) indexDirectory(ctx context.Context, dir string, rep *Report) error {
	log := logger.FromContext(ctx)

	files, err := s.loader.ListSupported(dir)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	rep.FilesSeen = len(files)
	if len(files) == 0 {
		return fmt.Errorf("%s: %w", dir, domain.ErrNoDocuments)
	}
	log.Info("Indexing documents", zap.String("dir", dir), zap.Int("files", len(files)))

	remove, err := s.vanished(ctx, dir, files)
	if err != nil {
		return err
	}
	removeIDs := make([]string, 0, len(remove))
	for _, doc := range remove {
		log.Info("Document gone from directory", zap.String("path", doc.Path()))
		removeIDs = append(removeIDs, doc.ID())
	}

	var (
		pending []domdoc.Replacement
		texts   []string
	)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // context error
		}

		hash, err := domdoc.HashFile(path)
		if err != nil {
			log.Warn("Cannot hash document, skipping", zap.String("path", path), zap.Error(err))
			rep.FilesFailed++
			metrics.IndexFilesTotal.WithLabelValues("failed").Inc()
			continue
		}

		id := domdoc.IDFor(path)
		prev, err := s.store.GetDocument(ctx, id)
		switch {
		case err == nil && prev.Hash() == hash:
			rep.FilesSkipped++
			metrics.IndexFilesTotal.WithLabelValues("unchanged").Inc()
			log.Debug("Document unchanged", zap.String("path", path))
			continue
		case err != nil && !errors.Is(err, domain.ErrDocumentNotFound):
			return fmt.Errorf("lookup %s: %w", path, err)
		}
		stored := err == nil

		chunks := s.loader.Load(path)
		if len(chunks) == 0 {
			rep.FilesFailed++
			metrics.IndexFilesTotal.WithLabelValues("failed").Inc()
			if stored {
				// the file no longer yields text: its old chunks must go
				removeIDs = append(removeIDs, id)
			}
			continue
		}

		doc, err := domdoc.New(path, hash, len(chunks), s.now())
		if err != nil {
			return fmt.Errorf("document %s: %w", path, err)
		}
		pending = append(pending, domdoc.Replacement{Document: doc, Chunks: chunks})
		texts = append(texts, chunks...)
		rep.FilesIndexed++
		metrics.IndexFilesTotal.WithLabelValues("indexed").Inc()
		log.Debug("Document queued",
			zap.String("path", path),
			zap.String("doc_id", id),
			zap.Int("chunks", len(chunks)),
		)
	}

	if len(pending) == 0 {
		if len(removeIDs) == 0 {
			log.Info("No new chunks to index")
			return s.ensureIndex(ctx, rep)
		}
		if _, err := s.store.ApplyChanges(ctx, nil, removeIDs); err != nil {
			return fmt.Errorf("remove documents: %w", err)
		}
		rep.Removed = len(removeIDs)
		return s.rebuildFromStore(ctx, rep)
	}

	return embedding.WithSession(ctx, s.client, log, func(ctx context.Context, c domain.EmbeddingClient) error {
		if _, err := c.Embed(ctx, texts); err != nil {
			return fmt.Errorf("embed %d new chunks: %w", len(texts), err)
		}
		n, err := s.store.ApplyChanges(ctx, pending, removeIDs)
		if err != nil {
			return fmt.Errorf("store documents: %w", err)
		}
		rep.NewChunks = n
		rep.Removed = len(removeIDs)
		metrics.IndexChunksTotal.Add(float64(n))

		chunks, err := s.store.AllChunksOrderedBySlot(ctx)
		if err != nil {
			return fmt.Errorf("read chunks: %w", err)
		}
		return s.rebuild(ctx, c, chunks, rep)
	})
}

// vanished returns the stored documents under dir that are no longer listed:
// deleted, renamed, or newly ignored.
func (s *Service) vanished(ctx context.Context, dir string, files []string) ([]domdoc.Document, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	listed := make(map[string]struct{}, len(files))
	for _, f := range files {
		listed[domdoc.IDFor(f)] = struct{}{}
	}

	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored documents: %w", err)
	}
	var gone []domdoc.Document
	for _, doc := range docs {
		if !within(root, doc.Path()) {
			continue
		}
		if _, ok := listed[doc.ID()]; !ok {
			gone = append(gone, doc)
		}
	}
	return gone, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ensureIndex keeps an existing index file when its slots match the store.
// A missing file or a slot mismatch (left by a failed rebuild) is rebuilt from
// the store; an unreadable file is an error.
func (s *Service) ensureIndex(ctx context.Context, rep *Report) error {
	idx, found, err := vectorindex.OpenOrEmpty(s.indexPath, s.defaultDim)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if !found {
		logger.FromContext(ctx).Info("Vector index missing, rebuilding", zap.String("path", s.indexPath))
		return s.rebuildFromStore(ctx, rep)
	}

	chunks, err := s.store.AllChunksOrderedBySlot(ctx)
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}
	if !sameSlots(idx.Slots(), chunks) {
		logger.FromContext(ctx).Warn("Vector index out of date, rebuilding",
			zap.String("path", s.indexPath),
			zap.Int("index_rows", idx.Len()),
			zap.Int("store_chunks", len(chunks)),
		)
		return s.rebuildChunks(ctx, chunks, rep)
	}

	rep.TotalChunks = idx.Len()
	metrics.IndexRows.Set(float64(idx.Len()))
	return nil
}

func sameSlots(slots []int64, chunks []domain.Chunk) bool {
	if len(slots) != len(chunks) {
		return false
	}
	for i, ch := range chunks {
		if slots[i] != ch.Slot {
			return false
		}
	}
	return true
}

// rebuildFromStore loads the embedding client only when there is something to embed.
func (s *Service) rebuildFromStore(ctx context.Context, rep *Report) error {
	chunks, err := s.store.AllChunksOrderedBySlot(ctx)
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}
	return s.rebuildChunks(ctx, chunks, rep)
}

func (s *Service) rebuildChunks(ctx context.Context, chunks []domain.Chunk, rep *Report) error {
	if len(chunks) == 0 {
		return s.rebuild(ctx, nil, nil, rep)
	}
	return embedding.WithSession(ctx, s.client, logger.FromContext(ctx),
		func(ctx context.Context, c domain.EmbeddingClient) error {
			return s.rebuild(ctx, c, chunks, rep)
		})
}

// rebuild re-embeds chunks in slot order and atomically replaces the index file.
func (s *Service) rebuild(ctx context.Context, c domain.EmbeddingClient, chunks []domain.Chunk, rep *Report) error {
	slots := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		slots[i] = ch.Slot
		texts[i] = ch.Text
	}

	dim := 0
	var vecs [][]float32
	if len(chunks) > 0 {
		var err error
		if vecs, err = c.Embed(ctx, texts); err != nil {
			return fmt.Errorf("re-embed %d chunks: %w", len(texts), err)
		}
	} else {
		dim = s.lastDim()
	}

	idx, err := vectorindex.Build(dim, slots, vecs)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := idx.Persist(s.indexPath); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	rep.TotalChunks = idx.Len()
	rep.Rebuilt = true
	metrics.IndexRows.Set(float64(idx.Len()))
	logger.FromContext(ctx).Info("Vector index rebuilt",
		zap.String("path", s.indexPath),
		zap.Int("rows", idx.Len()),
		zap.Int("dim", idx.Dim()),
	)
	return nil
}

// lastDim returns the dimension of the index on disk, or the default.
func (s *Service) lastDim() int {
	idx, found, err := vectorindex.OpenOrEmpty(s.indexPath, s.defaultDim)
	if err != nil || !found {
		return s.defaultDim
	}
	return idx.Dim()
}

type noJournal struct{}

func (noJournal) StartRun(context.Context, domain.IndexRun) error  { return nil }
func (noJournal) FinishRun(context.Context, domain.IndexRun) error { return nil }
