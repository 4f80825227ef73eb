package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a single capture pass over all sources and exit",
	RunE:  captureAction,
}

func captureAction(cmd *cobra.Command, _ []string) error {
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

	runCtx := ctx
	if a.cfg.Capture.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Capture.RunTimeout)
		defer cancel()
	}

	result, err := a.capture.Execute(runCtx)
	if err != nil {
		return err
	}

	for _, line := range summarize(result) {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
