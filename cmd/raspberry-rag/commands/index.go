package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	"github.com/r9zhenka/raspberry-rag/internal/usecase/indexer"
)

// Exit codes of the index command.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNoDocuments = 2
)

// IndexAction indexes the documents directory once.
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppFromCommand(ctx, cmd)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer app.Close()

	dir := cmd.String("dir")
	if dir == "" {
		dir = app.Config.DocumentsPath
	}
	return runIndex(ctx, app, dir, cmd.Bool("rebuild"), cmd.Root().Writer)
}

func runIndex(ctx context.Context, app *App, dir string, rebuild bool, out io.Writer) error {
	app.Logger.Info("Indexing documents", zap.String("dir", dir), zap.Bool("rebuild", rebuild))

	var (
		rep indexer.Report
		err error
	)
	if rebuild {
		rep, err = app.Indexer.Rebuild(ctx)
	} else {
		rep, err = app.Indexer.IndexDirectory(ctx, dir)
	}
	if err != nil {
		return exitError(err)
	}

	_, _ = fmt.Fprintf(out, "Indexed %d chunks (%d new, %d files indexed, %d unchanged, %d failed)\n",
		rep.TotalChunks, rep.NewChunks, rep.FilesIndexed, rep.FilesSkipped, rep.FilesFailed)
	return nil
}

// exitError maps indexing failures to the command's exit codes.
func exitError(err error) error {
	if errors.Is(err, domain.ErrNoDocuments) {
		return cli.Exit("No documents found", ExitNoDocuments)
	}
	return cli.Exit(fmt.Sprintf("Indexing failed: %v", err), ExitFailure)
}
