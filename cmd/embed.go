package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/screening"
)

var embedCmd = &cobra.Command{
	Use:       "embed job|application <id>",
	Short:     "Compute and store the embedding of a job posting or an application",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(screening.EmbedKindJob), string(screening.EmbedKindApplication)},
	Run: func(cmd *cobra.Command, args []string) {
		embed(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(embedCmd)

	embedCmd.Flags().BoolP("force", "f", false, "recompute even if an embedding is stored")
	embedCmd.Flags().Bool("async", false, "hand the task to the worker queue")
}

func embed(cmd *cobra.Command, args []string) {
	logger, config := setup()
	ctx := context.Background()

	force, _ := cmd.Flags().GetBool("force")
	async, _ := cmd.Flags().GetBool("async")

	kind, err := screening.ParseEmbedKind(args[0])
	if err != nil {
		logger.Fatal("parsing arguments", zap.Error(err))
	}
	id, err := parseID(args[1], string(kind))
	if err != nil {
		logger.Fatal("parsing arguments", zap.Error(err))
	}

	comps, err := buildComponents(ctx, config, logger, buildOptions{queue: async})
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer comps.Close()

	log := logger.With(zap.String("kind", string(kind)), zap.Int64("id", id), zap.Bool("force", force))

	if async {
		if err := comps.publisher.DispatchEmbed(ctx, screening.EmbedTask{Kind: kind, ID: id, Force: force}); err != nil {
			log.Fatal("dispatching embedding task", zap.Error(err))
		}
		log.Info("embedding task handed to the workers")
		return
	}

	var computed bool
	switch kind {
	case screening.EmbedKindJob:
		computed, err = comps.orchestrator.EmbedJob(ctx, id, force)
	case screening.EmbedKindApplication:
		computed, err = comps.orchestrator.EmbedApplication(ctx, id, force)
	}
	if err != nil {
		log.Fatal("embedding failed", zap.Error(err))
	}

	if !computed {
		log.Info("embedding already stored, use --force to recompute")
		return
	}
	log.Info("embedding stored")
}
