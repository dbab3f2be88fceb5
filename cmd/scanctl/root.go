package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hugh/scanhub/internal/app"
	"github.com/hugh/scanhub/internal/database"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/pkg/config"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanctl",
		Short: "Administer scanhub",
		Long: `scanctl runs maintenance tasks against the scanhub database and queue:
schema migration and seeding, stale scan reconciliation, scan inspection
and key generation.

Configuration is read from .env and the environment, as for the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newMigrateCmd(),
		newReconcileCmd(),
		newStatusCmd(),
		newListCmd(),
		newQueueCmd(),
		newKeygenCmd(),
		newSeedCmd(),
	)
	return root
}

func logger(cfg *config.Config) *slog.Logger {
	if verbose {
		return util.NewLogger(cfg.Server.Env)
	}
	return util.NewDiscardLogger()
}

// env is what most subcommands need: configuration, a database and a
// manager over it.
type env struct {
	cfg     *config.Config
	db      *gorm.DB
	manager *scans.Manager
	close   func()
}

// loadEnv is replaced in tests.
var loadEnv = openEnv

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := logger(cfg)

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	sealer, err := app.NewSealer(&cfg.Encryption)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	backend, err := app.NewBackend(&cfg.Scanner)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	// scanctl never requests scans, so the default dispatcher is unused.
	manager := scans.NewManager(scans.NewGormStore(db, sealer), backend, scans.ManagerOptions{
		StaleAfter: cfg.Scanner.StaleAfter(),
		Logger:     log,
	})
	return &env{cfg: cfg, db: db, manager: manager, close: func() { _ = database.Close(db) }}, nil
}

func (e *env) Close() {
	if e.close != nil {
		e.close()
	}
}

func withEnv(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd.Context(), e, cmd, args)
	}
}
