// Package main is the entry point for the ads analytics auth server.
//
// COMMANDS:
//
//	server serve             run the HTTP server (default)
//	server stats             print user and linked-account counts as JSON
//	server prune --older-than 720h
//	                         delete provider tokens that expired before now-720h
//
// Configuration comes from the environment (see internal/config). A .env
// file in the working directory is loaded first when present; variables
// already set in the environment win.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iayvob/Ads-Analytics-V2/internal/config"
)

// rootFlags are available to every command.
type rootFlags struct {
	envFile string
	dbPath  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "server",
		Short: "Social business-account authentication service",
		Long: `Links Facebook, Instagram and Twitter business accounts to local users
through OAuth 2.0 and keeps their tokens for the analytics dashboard.

Running without a command starts the HTTP server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(flags.envFile)
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	serve := newServeCmd(flags)
	root.RunE = serve.RunE
	root.AddCommand(serve, newStatsCmd(flags), newPruneCmd(flags))
	return root
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// newLogger builds the process logger: text for humans in development, JSON
// for log collectors in production.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// resolveDBPath applies the --db override, falling back to DB_PATH and then
// the default, and makes sure the parent directory exists.
func resolveDBPath(flagValue, configured string) (string, error) {
	dbPath := configured
	if flagValue != "" {
		dbPath = flagValue
	}
	if dbPath == "" {
		if env := os.Getenv("DB_PATH"); env != "" {
			dbPath = env
		} else {
			dbPath = "data/auth.db"
		}
	}
	if dbPath == ":memory:" {
		return dbPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return "", fmt.Errorf("creating database directory: %w", err)
	}
	return dbPath, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
