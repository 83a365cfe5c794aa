// Package main provides the CLI entry point for chat-bridge, a relay that
// mirrors messages between mapped Slack and Discord channels.
//
// # Basic Usage
//
// Start the HTTP API, the Slack webhook, the Discord gateway and the relay
// workers:
//
//	bridge serve
//
// Create or update the schema without serving:
//
//	bridge migrate
//
// Run one ledger retention sweep:
//
//	bridge purge
//
// Mint a management API token (requires JWT_SECRET):
//
//	bridge token --user alice --ttl 12h
//
// # Environment Variables
//
// Configuration is read from the environment, optionally seeded from a .env
// file (see --env-file). The most relevant variables:
//
//   - DB_DRIVER, DB_PATH, DATABASE_URL: storage backend
//   - SLACK_SIGNING_SECRET: enables POST /slack/events
//   - DISCORD_BOT_TOKEN: enables the Discord gateway
//   - JWT_SECRET: switches the management API to bearer tokens
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "chat-bridge - relay messages between Slack and Discord channels",
		Long: `chat-bridge mirrors messages between mapped Slack and Discord channels.

Slack events arrive through a signed webhook, Discord messages through the
gateway. A relay ledger suppresses duplicate deliveries and bridge loops.
Channel mappings are managed over a small authenticated HTTP API.`,
		Version:      version + " (" + commit + ", " + date + ")",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildPurgeCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

// loadEnv seeds the process environment from path. A missing default file is
// not an error; a missing file the user asked for is.
func loadEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return err
}
