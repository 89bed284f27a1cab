package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// WithSession loads client, runs fn and unloads the client on every path.
// An unload failure is logged and never replaces the error returned by fn.
func WithSession(
	ctx context.Context, client domain.EmbeddingClient, logger *zap.Logger,
	fn func(ctx context.Context, c domain.EmbeddingClient) error,
) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.Load(ctx); err != nil {
		// a half-loaded client still gets released
		unload(ctx, client, logger)
		return fmt.Errorf("load embedding client: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			unload(ctx, client, logger)
			panic(r)
		}
		unload(ctx, client, logger)
	}()

	return fn(ctx, client)
}

func unload(ctx context.Context, client domain.EmbeddingClient, logger *zap.Logger) {
	// unload even when ctx is already cancelled
	if err := client.Unload(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Embedding client unload failed", zap.Error(err))
	}
}
