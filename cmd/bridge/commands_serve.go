package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/config"
	httpapi "github.com/tbourn/chat-bridge/internal/http"
	"github.com/tbourn/chat-bridge/internal/observability"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/platform/discord"
	slackp "github.com/tbourn/chat-bridge/internal/platform/slack"
	"github.com/tbourn/chat-bridge/internal/relay"
	"github.com/tbourn/chat-bridge/internal/repo"
)

const shutdownTimeout = 15 * time.Second

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and relay workers",
		Long: `Start the bridge.

The process serves the management API and the Slack webhook, connects to the
Discord gateway when a bot token is configured, runs the relay worker pool
and schedules the ledger retention sweep. SIGINT or SIGTERM drains in-flight
work before exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// app holds the long-running pieces of a serving process.
type app struct {
	cfg     config.Config
	db      *gorm.DB
	runner  *relay.Runner
	purger  *relay.PurgeScheduler
	discord *discord.Adapter
	handler http.Handler
}

// newApp opens storage and wires adapters, relay and HTTP routes. Nothing is
// started; see start and shutdown.
func newApp(cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	slackAdapter := slackp.NewAdapter(
		slackp.NewVerifier(cfg.Slack.SigningSecret, cfg.Slack.MaxClockSkew),
		cfg.Slack.APIURL,
	)
	adapters := []platform.Adapter{slackAdapter}

	var discordAdapter *discord.Adapter
	if cfg.Discord.Enabled {
		discordAdapter = discord.NewAdapter(discord.Config{Token: cfg.Discord.BotToken})
		adapters = append(adapters, discordAdapter)
	}

	ledger := repo.NewLedger(db, cfg.Ledger.ClaimTimeout)
	dispatcher := relay.NewDispatcher(repo.Registry{DB: db}, ledger, relay.Options{
		SendTimeout:      cfg.Relay.SendTimeout,
		MaxParallelSends: cfg.Relay.MaxParallelSends,
	}, adapters...)
	runner := relay.NewRunner(dispatcher, cfg.Relay.Workers, cfg.Relay.QueueSize)

	deps := httpapi.Deps{DB: db, Adapters: adapters}
	if cfg.Slack.SigningSecret != "" {
		deps.Slack = slackAdapter
		deps.Sink = runner
	} else {
		log.Warn().Msg("SLACK_SIGNING_SECRET not set; /slack/events is disabled")
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, deps, cfg)

	return &app{
		cfg:     cfg,
		db:      db,
		runner:  runner,
		purger:  relay.NewPurgeScheduler(ledger, cfg.Ledger.Retention, cfg.Ledger.PurgeBatch),
		discord: discordAdapter,
		handler: engine,
	}, nil
}

// start launches the workers, the purge schedule and the Discord gateway.
func (a *app) start(ctx context.Context) error {
	a.runner.Start(ctx)
	if err := a.purger.Start(a.cfg.Ledger.PurgeSchedule); err != nil {
		return err
	}
	if a.discord != nil {
		if err := a.discord.Start(ctx, a.runner); err != nil {
			return fmt.Errorf("discord gateway: %w", err)
		}
	}
	return nil
}

// shutdown stops intake first, then drains the relay queue, then closes
// storage.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.discord != nil {
		errs = append(errs, a.discord.Stop())
	}
	errs = append(errs, a.runner.Shutdown(ctx))
	select {
	case <-a.purger.Stop().Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

func runServe(ctx context.Context, cfg config.Config) error {
	observability.SetupLogger(observability.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: version,
	})

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay shutdown")
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bridge stopped")
	return runErr
}

// openDB connects to the configured backend and migrates the schema.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(repo.Options{
		Driver:  cfg.DB.Driver,
		Path:    cfg.DB.Path,
		DSN:     cfg.DB.URL,
		Tracing: cfg.OTEL.Enabled,
		Silent:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
