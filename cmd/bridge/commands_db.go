package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/chat-bridge/internal/config"
	"github.com/tbourn/chat-bridge/internal/relay"
	"github.com/tbourn/chat-bridge/internal/repo"
)

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DB.Driver)
			return nil
		},
	}
}

func buildPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete relay ledger entries past the retention window",
		Long: `Run one ledger retention sweep and exit.

By default entries older than LEDGER_RETENTION are removed. Use --older-than
to override the window for this run; it must still exceed the claim timeout
so in-flight relays keep their dedup record.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			retention := cfg.Ledger.Retention
			if olderThan > 0 {
				if olderThan <= cfg.Ledger.ClaimTimeout {
					return fmt.Errorf("--older-than must exceed the claim timeout (%s)", cfg.Ledger.ClaimTimeout)
				}
				retention = olderThan
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			ledger := repo.NewLedger(db, cfg.Ledger.ClaimTimeout)
			n, err := relay.NewPurgeScheduler(ledger, retention, cfg.Ledger.PurgeBatch).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d ledger entries older than %s\n", n, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override LEDGER_RETENTION for this run")
	return cmd
}
