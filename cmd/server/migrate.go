package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/intake-chat/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema and exit",
	Long: `Opens the configured session store, applying the SQLite schema when the
sqlite backend is selected, and verifies connectivity. Redis needs no schema
and is only pinged.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		setupLogger(slog.LevelInfo)

		cfg, err := config.LoadStore()
		if err != nil {
			return err
		}

		repo, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("store health check: %w", err)
		}

		slog.Info("Store ready", "backend", cfg.Backend)
		return nil
	},
}
