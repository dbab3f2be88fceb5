package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hugh/scanhub/internal/auth"
	"github.com/hugh/scanhub/internal/database"
	"github.com/spf13/cobra"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newSeedCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Migrate and create an initial user",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
			if err := database.AutoMigrate(e.db); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}

			jwtService := auth.NewJWTService(e.cfg.JWT.Secret, e.cfg.JWT.Expiry())
			resp, err := auth.NewService(e.db, jwtService).Register(ctx, auth.RegisterInput{
				Email:    email,
				Password: password,
				Name:     name,
			})
			if errors.Is(err, auth.ErrUserExists) {
				fmt.Fprintf(cmd.OutOrStdout(), "user already exists: %s\n", email)
				return nil
			}
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created user %s (%s)\n", resp.User.Email, resp.User.ID)
			fmt.Fprintf(out, "token: %s\n", resp.Token)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", envOr("ADMIN_EMAIL", "admin@example.com"), "user email")
	cmd.Flags().StringVar(&password, "password", envOr("ADMIN_PASSWORD", "admin123!"), "user password")
	cmd.Flags().StringVar(&name, "name", envOr("ADMIN_NAME", "Admin"), "display name")
	return cmd
}
