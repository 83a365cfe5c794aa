// Mapping HTTP handlers.
//
// This file exposes REST endpoints for channel mappings:
//   - GET    /mappings          (list, paginated)
//   - POST   /mappings          (create)
//   - PATCH  /mappings/{id}     (enable / disable)
//   - DELETE /mappings/{id}     (remove, with ledger history)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/services"
)

// CreateMappingRequest is the JSON payload for creating a mapping. Channel
// names are optional and resolved from the platform when omitted.
type CreateMappingRequest struct {
	SourceConnectionID string `json:"source_connection_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	SourceChannelID    string `json:"source_channel_id"    binding:"required" example:"C0123456789"`
	SourceChannelName  string `json:"source_channel_name"  example:"general"`
	DestConnectionID   string `json:"dest_connection_id"   binding:"required" example:"5f1b8a6e-5c1d-4e0f-a0a4-6b0a7f6f1e22"`
	DestChannelID      string `json:"dest_channel_id"      binding:"required" example:"112233445566778899"`
	DestChannelName    string `json:"dest_channel_name"    example:"lobby"`
	Active             *bool  `json:"active"               example:"true"`
}

// UpdateMappingRequest is the JSON payload for toggling a mapping.
type UpdateMappingRequest struct {
	Active *bool `json:"active" binding:"required" example:"false"`
}

// ListMappingsResponse wraps a page of mappings and pagination information.
type ListMappingsResponse struct {
	Mappings   []domain.ChannelMapping `json:"mappings"`
	Pagination Pagination              `json:"pagination"`
}

// ListMappings godoc
// @ID          listMappings
// @Summary     List channel mappings (paginated)
// @Tags        Mappings
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMappingsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /mappings [get]
func (h *Handlers) ListMappings(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	page, pageSize := pagination(c)

	items, total, err := h.mapSvc.ListPage(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMappingsResponse{
		Mappings:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// CreateMapping godoc
// @ID          createMapping
// @Summary     Map two channels
// @Description Links a Slack channel and a Discord channel for two-way relay. Both connections must belong to the caller.
// @Tags        Mappings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CreateMappingRequest  true  "Mapping"
// @Success     201  {object}  domain.ChannelMapping
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Channel pair already mapped"
// @Router      /mappings [post]
func (h *Handlers) CreateMapping(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	var req CreateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	m, err := h.mapSvc.Create(c.Request.Context(), uid, services.CreateMappingInput{
		SourceConnectionID: req.SourceConnectionID,
		SourceChannelID:    req.SourceChannelID,
		SourceChannelName:  req.SourceChannelName,
		DestConnectionID:   req.DestConnectionID,
		DestChannelID:      req.DestChannelID,
		DestChannelName:    req.DestChannelName,
		Active:             req.Active,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// UpdateMapping godoc
// @ID          updateMapping
// @Summary     Enable or disable a mapping
// @Tags        Mappings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                         true  "Mapping ID"  format(uuid)
// @Param       body  body  handlers.UpdateMappingRequest  true  "New state"
// @Success     200  {object}  domain.ChannelMapping
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Mapping not found"
// @Router      /mappings/{id} [patch]
func (h *Handlers) UpdateMapping(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	var req UpdateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "active (bool) is required")
		return
	}

	m, err := h.mapSvc.SetActive(c.Request.Context(), uid, c.Param("id"), *req.Active)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMapping godoc
// @ID          deleteMapping
// @Summary     Delete a mapping
// @Tags        Mappings
// @Security    BearerAuth
// @Param       id  path  string  true  "Mapping ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Mapping not found"
// @Router      /mappings/{id} [delete]
func (h *Handlers) DeleteMapping(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	if err := h.mapSvc.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
