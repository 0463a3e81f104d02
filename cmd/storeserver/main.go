// Command storeserver runs the Store API as a standalone HTTP process
// (spec.md §6), backed by the embedded SQLite engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"chesscrawler/internal/config"
	"chesscrawler/internal/logging"
	"chesscrawler/internal/store/sqlite"
	"chesscrawler/internal/store/storeserver"

	"github.com/spf13/cobra"
)

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "storeserver",
		Short: "Store API HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			dbPath, _ := cmd.Flags().GetString("db")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, addr, dbPath)
		},
	}
	rootCmd.Flags().String("addr", ":8090", "listen address (host:port)")
	rootCmd.Flags().String("db", "", "sqlite database path (default: from STORE_SQLITE_PATH env, or chesscrawler.db)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, dbPath string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dbPath == "" {
		dbPath = cfg.StoreSQLitePath
	}

	logger.Info("opening store", "path", dbPath)
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	srv := storeserver.New(storeserver.Config{Addr: addr, Store: db, Logger: logger})
	logger.Info("store server listening", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("store server shut down")
	return nil
}
