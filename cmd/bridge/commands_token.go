package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/chat-bridge/internal/config"
	"github.com/tbourn/chat-bridge/internal/http/middleware"
)

func buildTokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the management API",
		Long: `Sign an HS256 token for --user with JWT_SECRET.

The token subject becomes the owner of every connection and mapping created
with it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := middleware.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
			if !tokens.Enabled() {
				return errors.New("JWT_SECRET is not set; the API is in trusted-header mode")
			}
			tok, err := tokens.Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
