package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/r9zhenka/raspberry-rag/internal/version"
)

// VersionAction prints build metadata.
func VersionAction(_ context.Context, cmd *cli.Command) error {
	_, _ = fmt.Fprintln(cmd.Root().Writer, version.String())
	return nil
}
