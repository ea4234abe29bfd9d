package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		migrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrate() {
	logger, config := setup()
	ctx := context.Background()

	if config.DatabaseURL == "" {
		logger.Fatal("migrating", zap.Error(errors.New("database-url is required (set DATABASE_URL)")))
	}

	pool, err := postgres.NewPool(ctx, config.DatabaseURL)
	if err != nil {
		logger.Fatal("connecting to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrating", zap.Error(err))
	}
	logger.Info("schema is up to date")
}
