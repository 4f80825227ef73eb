package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreschagin/desertyard/internal/domain/valueobject"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild and upload the precomputed snapshot index",
	Long:  "reindex lists every source prefix, rebuilds the index in the configured order and overwrites " + valueobject.IndexArtifactKey + ".",
	RunE:  reindexAction,
}

func reindexAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(context.Background()); closeErr != nil {
			a.log.Error("Failed to close integrations", closeErr)
		}
	}()

	if err := a.builder.Persist(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s rebuilt (%s)\n", valueobject.IndexArtifactKey, a.cfg.Index.Order)
	return nil
}
