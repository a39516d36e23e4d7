package main

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply payments database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Payments.DatabaseURL == "" {
				return errors.New("PAYMENTS_DB_URL is required")
			}
			return db.ApplyMigrations(cfg.Payments.DatabaseURL, cfg.Payments.MigrationsPath)
		},
	}
}

func newCreateAdminCmd() *cobra.Command {
	var (
		email     string
		password  string
		firstName string
		lastName  string
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			created, err := a.users.CreateUser(cmd.Context(), &user.User{
				Email:     strings.TrimSpace(email),
				FirstName: firstName,
				LastName:  lastName,
				Role:      user.RoleAdmin,
			}, password)
			if err != nil {
				return err
			}

			log.Info().Str("user_id", created.ID).Str("email", created.Email).Msg("Administrator created")
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "administrator email")
	cmd.Flags().StringVar(&password, "password", "", "administrator password")
	cmd.Flags().StringVar(&firstName, "first-name", "Admin", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "User", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
