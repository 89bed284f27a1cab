package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/r9zhenka/raspberry-rag/internal/usecase/retriever"
)

// NewRootCommand builds the raspberry-rag command tree.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "raspberry-rag",
		Usage: "Local document index and retrieval for the voice assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "environment: selects config/<env>.yaml and the log format",
				Value:   "local",
				Sources: cli.EnvVars("ENV"),
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "config file path (overrides --env lookup)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "index the documents directory once",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "documents directory (default: documents_path from config)",
					},
					&cli.BoolFlag{
						Name:  "rebuild",
						Usage: "re-embed every stored chunk and rebuild the vector index",
					},
				},
				Action: IndexAction,
			},
			{
				Name:  "serve",
				Usage: "watch the documents directory and serve the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "index-on-start",
						Usage: "index the documents directory before serving",
						Value: true,
					},
				},
				Action: ServeAction,
			},
			{
				Name:  "search",
				Usage: "search the index with a text query",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "text",
						Usage:    "query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "k",
						Usage: "number of results",
						Value: retriever.DefaultTopK,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print results as JSON",
					},
				},
				Action: SearchAction,
			},
			{
				Name:   "stats",
				Usage:  "show indexed documents and the last index run",
				Action: StatsAction,
			},
			{
				Name:   "version",
				Usage:  "print build information",
				Action: VersionAction,
			},
		},
	}
}
