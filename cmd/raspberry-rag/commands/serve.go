package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/metrics"
	chiTransport "github.com/r9zhenka/raspberry-rag/internal/transport/chi"
	healthuc "github.com/r9zhenka/raspberry-rag/internal/usecase/health"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/watcher"
	"github.com/r9zhenka/raspberry-rag/internal/version"
)

// ServeAction runs the watcher and the HTTP API until interrupted.
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	var app *App
	// Индексатор зовёт колбэк после каждой успешной пересборки
	onRebuild := func(rep indexer.Report) {
		if err := app.Retriever.Reload(); err != nil {
			app.Logger.Error("Reload vector index after rebuild", zap.String("run_id", rep.RunID), zap.Error(err))
		}
	}

	var err error
	app, err = NewAppFromCommand(ctx, cmd, indexer.WithOnRebuild(onRebuild))
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer app.Close()

	if err := serve(ctx, app, cmd.Bool("index-on-start")); err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	return nil
}

func serve(ctx context.Context, app *App, indexOnStart bool) error {
	cfg, logger := app.Config, app.Logger
	metrics.RegisterHTTPMetrics()

	logger.Info("Starting raspberry-rag",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", app.Env),
		zap.String("documents", cfg.DocumentsPath),
		zap.String("embedder", cfg.Embedder.Type),
		zap.Int("http_port", cfg.HTTP.Port),
	)

	if err := app.Retriever.Reload(); err != nil {
		return err //nolint:wrapcheck // already wrapped by the retriever
	}
	if indexOnStart {
		initialIndex(ctx, app)
	}

	health := healthuc.New(app.Repo, app.Retriever, app.HealthChecker())
	server := chiTransport.NewServer(app.Retriever, app.Indexer, app.Repo, health, cfg.DocumentsPath, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.WatcherEnabled() {
		opts := []watcher.Option{
			watcher.WithInterval(time.Duration(cfg.Watcher.PollIntervalSec) * time.Second),
			watcher.WithLogger(logger),
		}
		if cfg.Watcher.Notify {
			opts = append(opts, watcher.WithNotify(time.Duration(cfg.Watcher.DebounceMs)*time.Millisecond))
		}
		w := watcher.New(cfg.DocumentsPath, app.Indexer, app.Loader, opts...)
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck // group members wrap their own errors
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// initialIndex brings the index up to date before serving. Failures are
// logged: the previous index stays usable and the watcher retries.
func initialIndex(ctx context.Context, app *App) {
	rep, err := app.Indexer.IndexDirectory(ctx, app.Config.DocumentsPath)
	switch {
	case errors.Is(err, domain.ErrNoDocuments):
		app.Logger.Warn("No documents to index yet", zap.String("dir", app.Config.DocumentsPath))
	case err != nil:
		app.Logger.Error("Initial indexing failed", zap.Error(err))
	default:
		app.Logger.Info("Initial indexing done",
			zap.Int("new_chunks", rep.NewChunks),
			zap.Int("total_chunks", rep.TotalChunks),
		)
	}
}
