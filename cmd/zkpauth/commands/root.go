// Package commands implements the zkpauth command line client. It runs the
// authentication core in-process and keeps its state in a local SQLite file.
package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"zkpauth/internal/app"
	"zkpauth/internal/platform/config"
	"zkpauth/internal/platform/logger"
	"zkpauth/internal/storage"
)

// currentKey holds the DID of the session the CLI last committed.
const currentKey = "cli:current"

var (
	configPath string
	dbPath     string
	verbose    bool

	core *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "zkpauth",
		Short:         "Authenticate with zero-knowledge credential proofs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			level := "error"
			if verbose {
				level = "debug"
			}
			log := logger.NewWithWriter(os.Stderr, level, "text")
			core, err = app.Build(cmd.Context(), cfg, log, prometheus.NewRegistry())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if core == nil {
				return nil
			}
			return core.Close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ZKP_CONFIG"), "path to a TOML config file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "local database (default ~/.zkpauth/zkpauth.db)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		registerCmd(),
		loginCmd(),
		walletLoginCmd(),
		logoutCmd(),
		sessionCmd(),
		deriveCmd(),
		issuerCmd(),
		networksCmd(),
	)

	ctx, cancel := signalContext()
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(err)
		return err
	}
	return nil
}

// loadConfig reads the config and pins storage to the local SQLite file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, ".zkpauth", "zkpauth.db")
	}
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = dbPath
	// the CLI runs no background workers
	cfg.Wallet.RPCURL = ""
	return cfg, nil
}

func currentDID(ctx context.Context) (string, error) {
	did, err := storage.GetJSON[string](ctx, core.Store, currentKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return did, err
}

func setCurrentDID(ctx context.Context, did string) error {
	if did == "" {
		return core.Store.Delete(ctx, currentKey)
	}
	return storage.SetJSON(ctx, core.Store, currentKey, did, 0)
}
