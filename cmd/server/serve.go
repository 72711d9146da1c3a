package main

import (
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST, WebSocket and gRPC APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to open store", zap.Error(err))
				return err
			}
			defer store.Close()

			lifecycle, err := system.NewLifecycleManager(cfg, store, logger)
			if err != nil {
				logger.Error("Failed to initialise system", zap.Error(err))
				return err
			}

			if err := lifecycle.Run(ctx); err != nil {
				logger.Error("System stopped with error", zap.Error(err))
				return err
			}

			logger.Info("OpenMaintenanceCore stopped successfully")
			return nil
		},
	}
}
