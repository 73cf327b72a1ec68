package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	sqliteRepo "github.com/iayvob/Ads-Analytics-V2/internal/repository/sqlite"
	"github.com/iayvob/Ads-Analytics-V2/internal/service"
)

// The admin commands only touch the database, so they need DB_PATH (or
// --db) but none of the OAuth credentials serve requires.

func openDB(flags *rootFlags) (*sqliteRepo.DB, error) {
	dbPath, err := resolveDBPath(flags.dbPath, "")
	if err != nil {
		return nil, err
	}
	return sqliteRepo.New(dbPath)
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print user and linked-account counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			users := service.NewUserService(db.Users(), db.AuthProviders(), discardLogger())
			stats, err := users.Stats(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newPruneCmd(flags *rootFlags) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete provider tokens that expired more than --older-than ago",
		Long: `Expired tokens are kept (soft expiry) so a user can still see which
accounts need reconnecting. prune hard-deletes rows whose expiry is older
than the given age.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			db, err := openDB(flags)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.AuthProviders().DeleteExpired(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired provider tokens\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum time since expiry")
	return cmd
}
