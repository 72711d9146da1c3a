package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/spf13/cobra"
)

const passwordEnv = "OMC_USER_PASSWORD"

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Long: `Create a user that can log in to the API.

The password is read from --password or, if that is empty, from the
` + passwordEnv + ` environment variable.

Examples:
  omc user create --username admin --password 'correct horse'
  OMC_USER_PASSWORD=secret123 omc user create --username alice --role technician`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")

			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				return errors.New("password required: use --password or " + passwordEnv)
			}

			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			authService := auth.NewAuthService(store, cfg.Auth, nil, logger)
			user, err := authService.CreateUser(cmd.Context(), username, password, auth.Role(role))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", user.Role, user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().String("username", "", "Login name")
	cmd.Flags().String("password", "", "Password, at least 8 characters")
	cmd.Flags().String("role", string(auth.RoleAdmin), "operator, technician or admin")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
