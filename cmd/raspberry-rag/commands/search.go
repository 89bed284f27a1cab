package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/r9zhenka/raspberry-rag/internal/domain"
)

// SearchAction embeds a text query and prints the best chunks.
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppFromCommand(ctx, cmd)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	defer app.Close()

	results, err := app.Retriever.SearchText(ctx, cmd.String("text"), cmd.Int("k"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Search failed: %v", err), ExitFailure)
	}
	return printResults(cmd.Root().Writer, results, cmd.Bool("json"))
}

func printResults(w io.Writer, results []domain.SearchResult, asJSON bool) error {
	if asJSON {
		if results == nil {
			results = []domain.SearchResult{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return nil
	}

	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "No results")
		return nil
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%d. [%.3f] %s\n   %s\n", i+1, r.Score, r.DocumentName, r.Text)
	}
	return nil
}
