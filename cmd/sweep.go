package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Screen every job whose application deadline has passed",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		sweep(cmd)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().Bool("async", false, "hand due jobs to the worker queue instead of screening here")
}

func sweep(cmd *cobra.Command) {
	logger, config := setup()
	ctx := context.Background()

	async, _ := cmd.Flags().GetBool("async")

	comps, err := buildComponents(ctx, config, logger, buildOptions{queue: async})
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer comps.Close()

	started, err := comps.orchestrator.SweepDueJobs(ctx)
	if err != nil {
		logger.Error("sweep finished with errors", zap.Int("jobs", started), zap.Error(err))
		return
	}
	logger.Info("sweep finished", zap.Int("jobs", started), zap.Bool("async", async))
}
