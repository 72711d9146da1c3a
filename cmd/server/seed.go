package main

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/seed"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/system"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Import a machine inventory file",
		Long: `Import machines from a YAML inventory. Machines already present (same
sector and name) are skipped, so the command can be run repeatedly.

Without a file argument the path from seed.path in the config is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := cfg.Seed.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no inventory file: pass a path or set seed.path")
			}

			doc, err := seed.LoadFile(path)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := system.NewMaintenanceService(cfg, store, nil, nil, logger)
			if err != nil {
				return err
			}

			result, err := svc.Import(cmd.Context(), doc.Inputs())
			if err != nil {
				return fmt.Errorf("import stopped after %d machines: %w", len(result.Created), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %d machines, skipped %d already known\n", len(result.Created), len(result.Skipped))
			for _, name := range result.Skipped {
				fmt.Fprintf(out, "  skipped %s\n", name)
			}
			return nil
		},
	}
}
