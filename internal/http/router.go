// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication and rate limiting.
//
// Two surfaces are mounted:
//   - POST /slack/events: the Slack Events API webhook. It is authenticated
//     by request signature, never by user credentials, and is not rate
//     limited.
//   - the management API under cfg.APIBasePath: connections and channel
//     mappings, authenticated per user.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/chat-bridge/docs"
	"github.com/tbourn/chat-bridge/internal/config"
	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/http/handlers"
	"github.com/tbourn/chat-bridge/internal/http/middleware"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
	"github.com/tbourn/chat-bridge/internal/services"
)

// connectionRepoShim adapts the repository free functions to
// services.ConnectionRepo.
type connectionRepoShim struct{}

func (connectionRepoShim) UpsertConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) (*domain.Connection, error) {
	return repo.UpsertConnection(ctx, db, c)
}

func (connectionRepoShim) GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error) {
	return repo.GetConnection(ctx, db, id, ownerID)
}

func (connectionRepoShim) GetConnectionByExternal(ctx context.Context, db *gorm.DB, p domain.Platform, externalID string) (*domain.Connection, error) {
	return repo.GetConnectionByExternal(ctx, db, p, externalID)
}

func (connectionRepoShim) ListConnections(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Connection, error) {
	return repo.ListConnections(ctx, db, ownerID)
}

func (connectionRepoShim) DeleteConnection(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteConnection(ctx, db, id, ownerID)
}

// mappingRepoShim adapts the repository free functions to
// services.MappingRepo.
type mappingRepoShim struct{}

func (mappingRepoShim) GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error) {
	return repo.GetConnection(ctx, db, id, ownerID)
}

func (mappingRepoShim) CreateMapping(ctx context.Context, db *gorm.DB, m *domain.ChannelMapping) (*domain.ChannelMapping, error) {
	return repo.CreateMapping(ctx, db, m)
}

func (mappingRepoShim) MappingPairExists(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	return repo.MappingPairExists(ctx, db, a, b)
}

func (mappingRepoShim) GetMapping(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.ChannelMapping, error) {
	return repo.GetMapping(ctx, db, id, ownerID)
}

func (mappingRepoShim) SetMappingActive(ctx context.Context, db *gorm.DB, id, ownerID string, active bool) error {
	return repo.SetMappingActive(ctx, db, id, ownerID, active)
}

func (mappingRepoShim) DeleteMapping(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteMapping(ctx, db, id, ownerID)
}

func (mappingRepoShim) CountMappings(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountMappings(ctx, db, ownerID)
}

func (mappingRepoShim) ListMappingsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.ChannelMapping, error) {
	return repo.ListMappingsPage(ctx, db, ownerID, offset, limit)
}

// Deps carries the runtime collaborators the router needs besides config.
type Deps struct {
	DB *gorm.DB
	// Adapters resolve channel names and listings for the management API.
	Adapters []platform.Adapter
	// Slack verifies webhook signatures. Nil leaves /slack/events unmounted.
	Slack handlers.Verifier
	// Sink receives verified inbound events (the relay runner).
	Sink handlers.EventSink
}

var corsAllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// The API group adds gzip, Auth and then the rate limiter, so buckets are
// keyed by the authenticated user.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Slack-Request-Timestamp"},
	}))
	r.Use(middleware.Recovery())

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if deps.Slack != nil && deps.Sink != nil {
		r.POST("/slack/events", handlers.NewSlackEvents(deps.Slack, deps.Sink).Handle)
	}

	connSvc := services.NewConnectionService(deps.DB, connectionRepoShim{}, deps.Adapters...)
	mapSvc := services.NewMappingService(deps.DB, mappingRepoShim{}, deps.Adapters...)
	h := handlers.New(connSvc, mapSvc)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		gzip.Gzip(gzip.DefaultCompression),
		middleware.Auth(middleware.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)),
		rl.Handler(),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
	)
	{
		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.RegisterConnection)
		api.DELETE("/connections/:id", h.DeleteConnection)
		api.GET("/connections/:id/channels", h.ListChannels)

		api.GET("/mappings", h.ListMappings)
		api.POST("/mappings", h.CreateMapping)
		api.PATCH("/mappings/:id", h.UpdateMapping)
		api.DELETE("/mappings/:id", h.DeleteMapping)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
