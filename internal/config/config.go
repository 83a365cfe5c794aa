// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database selection, platform credentials, relay tuning, ledger
// retention and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "chat-bridge")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file
	URL    string // PostgreSQL DSN
}

// SlackConfig holds webhook verification and API settings.
type SlackConfig struct {
	SigningSecret string
	MaxClockSkew  time.Duration
	APIURL        string // optional override, e.g. for a mock server
}

// DiscordConfig holds gateway credentials.
type DiscordConfig struct {
	Enabled  bool
	BotToken string
}

// RelayConfig tunes the worker pool and per-event fan-out.
type RelayConfig struct {
	Workers          int
	QueueSize        int
	SendTimeout      time.Duration
	MaxParallelSends int
}

// LedgerConfig controls dedup record lifetime.
type LedgerConfig struct {
	Retention     time.Duration
	PurgeSchedule string // cron spec or @every descriptor
	ClaimTimeout  time.Duration
	PurgeBatch    int
}

// AuthConfig controls management API authentication.
type AuthConfig struct {
	JWTSecret string // empty: trust X-User-ID
	JWTIssuer string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB      DBConfig
	Slack   SlackConfig
	Discord DiscordConfig
	Relay   RelayConfig
	Ledger  LedgerConfig
	Auth    AuthConfig

	// Rate limiting (management API only)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// maxSlackSkew is the widest replay window accepted for Slack signatures.
const maxSlackSkew = 5 * time.Minute

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	discordToken := getenv("DISCORD_BOT_TOKEN", "")
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "bridge.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Slack: SlackConfig{
			SigningSecret: getenv("SLACK_SIGNING_SECRET", ""),
			MaxClockSkew:  getdur("SLACK_MAX_CLOCK_SKEW", 300*time.Second),
			APIURL:        getenv("SLACK_API_URL", ""),
		},
		Discord: DiscordConfig{
			Enabled:  getbool("DISCORD_ENABLED", discordToken != ""),
			BotToken: discordToken,
		},
		Relay: RelayConfig{
			Workers:          getint("RELAY_WORKERS", 4),
			QueueSize:        getint("RELAY_QUEUE_SIZE", 256),
			SendTimeout:      getdur("RELAY_SEND_TIMEOUT", 10*time.Second),
			MaxParallelSends: getint("RELAY_MAX_PARALLEL_SENDS", 4),
		},
		Ledger: LedgerConfig{
			Retention:     getdur("LEDGER_RETENTION", 24*time.Hour),
			PurgeSchedule: getenv("LEDGER_PURGE_SCHEDULE", "@every 1h"),
			ClaimTimeout:  getdur("LEDGER_CLAIM_TIMEOUT", 2*time.Minute),
			PurgeBatch:    getint("LEDGER_PURGE_BATCH", 500),
		},
		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			JWTIssuer: getenv("JWT_ISSUER", "chat-bridge"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "chat-bridge"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints. Load calls it; tests and the CLI
// call it after overriding fields.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be > 0")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	if cfg.Slack.MaxClockSkew <= 0 || cfg.Slack.MaxClockSkew > maxSlackSkew {
		return errors.New("SLACK_MAX_CLOCK_SKEW must be in (0, 5m]")
	}
	if cfg.Discord.Enabled && strings.TrimSpace(cfg.Discord.BotToken) == "" {
		return errors.New("DISCORD_BOT_TOKEN is required when DISCORD_ENABLED=true")
	}

	if cfg.Relay.Workers < 1 {
		return errors.New("RELAY_WORKERS must be >= 1")
	}
	if cfg.Relay.QueueSize < 1 {
		return errors.New("RELAY_QUEUE_SIZE must be >= 1")
	}
	if cfg.Relay.SendTimeout <= 0 {
		return errors.New("RELAY_SEND_TIMEOUT must be > 0")
	}
	if cfg.Relay.MaxParallelSends < 1 {
		return errors.New("RELAY_MAX_PARALLEL_SENDS must be >= 1")
	}

	if cfg.Ledger.ClaimTimeout <= 0 {
		return errors.New("LEDGER_CLAIM_TIMEOUT must be > 0")
	}
	// A purged record must never be needed again to reject a redelivery.
	if cfg.Ledger.Retention <= cfg.Ledger.ClaimTimeout || cfg.Ledger.Retention <= cfg.Slack.MaxClockSkew {
		return errors.New("LEDGER_RETENTION must exceed LEDGER_CLAIM_TIMEOUT and SLACK_MAX_CLOCK_SKEW")
	}
	if strings.TrimSpace(cfg.Ledger.PurgeSchedule) == "" {
		return errors.New("LEDGER_PURGE_SCHEDULE must not be empty")
	}
	if cfg.Ledger.PurgeBatch < 1 {
		return errors.New("LEDGER_PURGE_BATCH must be >= 1")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
