package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
	domdoc "github.com/r9zhenka/raspberry-rag/internal/domain/document"
)

// StatsAction prints the indexed documents and the last index run.
func StatsAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppFromCommand(ctx, cmd)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer app.Close()

	st, err := app.Repo.Stats(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Stats failed: %v", err), ExitFailure)
	}
	docs, err := app.Repo.ListDocuments(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Stats failed: %v", err), ExitFailure)
	}
	if err := app.Retriever.Reload(); err != nil {
		app.Logger.Warn("Vector index unreadable", zap.Error(err))
	}
	printStats(cmd.Root().Writer, st, docs, app.Retriever.Rows())
	return nil
}

func printStats(w io.Writer, st domain.StoreStats, docs []domdoc.Document, indexRows int) {
	_, _ = fmt.Fprintf(w, "Documents: %d\nChunks:    %d\nIndex rows: %d\n", st.Documents, st.Chunks, indexRows)
	if run := st.LastRun; run != nil {
		_, _ = fmt.Fprintf(w, "Last run:  %s %s at %s (%d new / %d total chunks)\n",
			run.Kind, run.Status, run.StartedAt.Local().Format(time.DateTime), run.NewChunks, run.TotalChunks)
		if run.Error != "" {
			_, _ = fmt.Fprintf(w, "           error: %s\n", run.Error)
		}
	}
	if len(docs) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FILE\tFORMAT\tCHUNKS\tINDEXED")
	for i := range docs {
		d := &docs[i]
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			d.Filename(), d.Format(), d.ChunkCount(), d.IndexedAt().Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}
