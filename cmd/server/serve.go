package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iayvob/Ads-Analytics-V2/internal/config"
	"github.com/iayvob/Ads-Analytics-V2/internal/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Start the HTTP server",
		Long: `Start the HTTP server. It stops gracefully on SIGINT or SIGTERM, waiting
up to 30 seconds for in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.DBPath, err = resolveDBPath(flags.dbPath, cfg.DBPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg)
			srv, err := server.New(cfg, logger)
			if err != nil {
				logger.Error("failed to create server", "error", err)
				return fmt.Errorf("creating server: %w", err)
			}
			if err := srv.Start(); err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
}
