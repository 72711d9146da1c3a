package main

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/config.yaml"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omc",
		Short: "Preventive maintenance scheduling for a machine fleet",
		Long: `omc tracks the maintenance cycles of every machine in a fleet. Completing
a cycle books the next one ninety days out on the first free business day,
so no two machines are ever due on the same date.

Quick start:
  omc migrate                           # Create the schema
  omc user create --username admin     # Create the first admin
  omc seed configs/machines.yaml        # Import the machine inventory
  omc serve                             # Start the REST and gRPC APIs`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", defaultConfigPath, "Path to the YAML config file")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(seedCmd())
	cmd.AddCommand(userCmd())

	return cmd
}

// bootstrap loads the config named by --config and builds the logger.
func bootstrap(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects and brings the schema up to date.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))
	return store, nil
}
