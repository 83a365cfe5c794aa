package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/services"
	"github.com/tbourn/chat-bridge/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConnectionService defines connection management operations consumed by
// HTTP handlers.
type ConnectionService interface {
	// Register records or refreshes an installation for userID.
	Register(ctx context.Context, userID string, in services.RegisterConnectionInput) (*domain.Connection, error)
	// List returns all connections of userID.
	List(ctx context.Context, userID string) ([]domain.Connection, error)
	// Delete removes a connection and its mappings.
	Delete(ctx context.Context, userID, id string) error
	// Channels lists postable channels of the connection's community.
	Channels(ctx context.Context, userID, id string) ([]platform.Channel, error)
}

// MappingService defines channel mapping operations consumed by HTTP handlers.
type MappingService interface {
	// Create validates and stores a new mapping.
	Create(ctx context.Context, userID string, in services.CreateMappingInput) (*domain.ChannelMapping, error)
	// ListPage returns a page of mappings and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChannelMapping, int64, error)
	// SetActive toggles relay through a mapping.
	SetActive(ctx context.Context, userID, id string, active bool) (*domain.ChannelMapping, error)
	// Delete removes a mapping.
	Delete(ctx context.Context, userID, id string) error
}

//
// Handler wiring
//

// Handlers groups the management API endpoints.
type Handlers struct {
	connSvc ConnectionService
	mapSvc  MappingService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(connSvc ConnectionService, mapSvc MappingService) *Handlers {
	return &Handlers{connSvc: connSvc, mapSvc: mapSvc}
}

// userID extracts the authenticated user id set by the auth middleware.
// It returns "" when the request was not authenticated.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// requireUser returns the caller id, or writes 401 and returns false.
func requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// pagination reads page and page_size query params and bounds them with
// utils.ClampPage.
func pagination(c *gin.Context) (page, pageSize int) {
	page, pageSize, _ = utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
	return page, pageSize
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
