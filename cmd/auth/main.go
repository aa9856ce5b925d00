package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Skotchmaster/auth_service/internal/app"
	"github.com/Skotchmaster/auth_service/internal/config"
	"github.com/Skotchmaster/auth_service/internal/db"
	"github.com/Skotchmaster/auth_service/internal/hash"
	"github.com/Skotchmaster/auth_service/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "auth",
		Short:         "Account credential and session service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())
	return cmd
}

func load(ctx context.Context) (config.Config, error) {
	boot := logging.New(os.Getenv("LOG_LEVEL"), "auth")
	return config.Load(ctx, boot)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := load(ctx)
			if err != nil {
				return err
			}
			l := logging.New(cfg.LogLevel, cfg.ServiceName)

			a, err := app.New(ctx, cfg, l)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := load(ctx)
			if err != nil {
				return err
			}
			l := logging.New(cfg.LogLevel, cfg.ServiceName)

			conn, err := app.OpenDB(ctx, cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := conn.DB(); err == nil {
				defer sqlDB.Close()
			}
			l.Info("migrate_complete")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	var admin db.Admin

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default roles and an optional bootstrap admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := load(ctx)
			if err != nil {
				return err
			}
			l := logging.New(cfg.LogLevel, cfg.ServiceName)

			var bootstrap *db.Admin
			if admin.Username != "" {
				if admin.Email == "" || len([]rune(admin.Password)) < cfg.MinPasswordLength {
					return fmt.Errorf("admin needs --admin-email and a --admin-password of at least %d characters", cfg.MinPasswordLength)
				}
				bootstrap = &admin
			}

			conn, err := app.OpenDB(ctx, cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := conn.DB(); err == nil {
				defer sqlDB.Close()
			}
			return db.Seed(ctx, conn, hash.New(cfg.BcryptCost), bootstrap, l)
		},
	}

	cmd.Flags().StringVar(&admin.Username, "admin-username", "", "Bootstrap administrator username")
	cmd.Flags().StringVar(&admin.Email, "admin-email", "", "Bootstrap administrator email")
	cmd.Flags().StringVar(&admin.Password, "admin-password", os.Getenv("ADMIN_PASSWORD"), "Bootstrap administrator password (defaults to $ADMIN_PASSWORD)")
	return cmd
}
