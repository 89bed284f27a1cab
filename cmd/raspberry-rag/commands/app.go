package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/chunker"
	"github.com/r9zhenka/raspberry-rag/internal/config"
	dbredis "github.com/r9zhenka/raspberry-rag/internal/db/redis"
	"github.com/r9zhenka/raspberry-rag/internal/db/sqlite"
	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/embedder/hashing"
	"github.com/r9zhenka/raspberry-rag/internal/loader"
	"github.com/r9zhenka/raspberry-rag/internal/lock"
	logpkg "github.com/r9zhenka/raspberry-rag/internal/logger"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
	"github.com/r9zhenka/raspberry-rag/internal/repository/metadata"
	openaiEmb "github.com/r9zhenka/raspberry-rag/internal/transport/openai"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/retriever"
)

// App holds the components shared by all commands.
type App struct {
	Env       string
	Config    config.Config
	Logger    *zap.Logger
	Store     *sqlite.Store
	Repo      *metadata.Repo
	Loader    *loader.Loader
	Indexer   *indexer.Service
	Retriever *retriever.Service
	// QueryClient embeds search text. It is a separate instance from the
	// indexer's client so a query never sees the indexer unload it.
	QueryClient domain.EmbeddingClient

	redis *dbredis.Store
}

// NewAppFromCommand reads the root --env and --config flags.
func NewAppFromCommand(ctx context.Context, cmd *cli.Command, opts ...indexer.Option) (*App, error) {
	return NewApp(ctx, cmd.String("env"), cmd.String("config"), opts...)
}

// NewApp loads the configuration for env (or the file at configPath when set)
// and wires the metadata store, loader, indexer and retriever.
func NewApp(ctx context.Context, env, configPath string, opts ...indexer.Option) (*App, error) {
	cfg, err := loadConfig(env, configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logpkg.NewLogger(env, logpkg.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIndexingMetrics()

	store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Index.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	app := &App{Env: env, Config: cfg, Logger: logger, Store: store, Repo: metadata.New(store)}

	locker, err := app.newLocker(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	splitter, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("chunker: %w", err)
	}
	app.Loader = loader.New(splitter, logger)

	docClient := newEmbeddingClient(cfg.Embedder, cfg.Embedder.OpenAI.DocumentInstruction, logger)
	app.QueryClient = newEmbeddingClient(cfg.Embedder, cfg.Embedder.OpenAI.QueryInstruction, logger)

	base := []indexer.Option{
		indexer.WithLocker(locker),
		indexer.WithDefaultDim(cfg.Index.DefaultDim),
		indexer.WithBatchSize(cfg.Embedder.BatchSize),
		indexer.WithLogger(logger),
	}
	app.Indexer = indexer.New(app.Repo, app.Loader, docClient, cfg.Index.VectorPath, append(base, opts...)...)

	ropts := []retriever.Option{
		retriever.WithEmbeddingClient(app.QueryClient),
		retriever.WithTopK(cfg.Retriever.TopK),
		retriever.WithDefaultDim(cfg.Index.DefaultDim),
		retriever.WithLogger(logger),
	}
	if cfg.Retriever.MinScore != nil {
		ropts = append(ropts, retriever.WithMinScore(*cfg.Retriever.MinScore))
	}
	app.Retriever = retriever.New(app.Repo, cfg.Index.VectorPath, ropts...)

	return app, nil
}

// Close releases the store connections and flushes the logger.
func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("close metadata store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

func (a *App) newLocker(ctx context.Context) (indexer.Locker, error) {
	lc := a.Config.Lock
	switch lc.Driver {
	case config.LockNone:
		return lock.Nop{}, nil
	case config.LockRedis:
		store, err := dbredis.NewStore(dbredis.Config{Addrs: lc.Redis.Addrs, Password: lc.Redis.Password})
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if err := store.WaitForReady(ctx, 10*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		a.redis = store
		return lock.NewRedis(store, lc.Redis.Key, time.Duration(lc.Redis.TTLSec)*time.Second, a.Logger), nil
	default:
		return lock.NewFile(lc.Path), nil
	}
}

// HealthChecker returns the query client's probe, or nil when it has none.
func (a *App) HealthChecker() domain.HealthChecker {
	if hc, ok := a.QueryClient.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}

func loadConfig(env, path string) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newEmbeddingClient builds the configured base client, prefixed with instruction if set.
func newEmbeddingClient(cfg config.EmbedderConfig, instruction string, logger *zap.Logger) domain.EmbeddingClient {
	var base domain.EmbeddingClient
	switch cfg.Type {
	case config.EmbedderHashing:
		base = hashing.New(cfg.Hashing.Dimensions)
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Dimensions:  cfg.OpenAI.Dimensions,
			Timeout:     time.Duration(cfg.OpenAI.TimeoutSec) * time.Second,
			VerifyModel: cfg.OpenAI.VerifyModel,
			Logger:      logger,
		})
	}
	return domain.NewPrefixedClient(base, instruction)
}
