package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shubhambtra/chatapp-api-sub000/app/server"
	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/store"
)

func main() {
	var envFile string
	var root = &cobra.Command{
		Use:          "knowledge",
		Short:        "Multi-tenant knowledge ingestion and retrieval API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "env file to load if present")

	root.AddCommand(serveCMD(&envFile), migrateCMD(&envFile))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD(envFile *string) *cobra.Command {
	var addr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server and indexing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := cfg.Log.NewLogger()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := server.NewServer(cfg, logger).Run(ctx); err != nil {
				logger.Error("server exited", "error", err)
				return err
			}
			return nil
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides SERVER_ADDR)")

	return serve
}

func migrateCMD(envFile *string) *cobra.Command {
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (PG_HOST)")
			}
			if err := store.Migrate(cfg.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			cfg.Log.NewLogger().Info("migrations applied", "direction", direction, "steps", steps)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	return migrate
}
