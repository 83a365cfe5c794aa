// Connection HTTP handlers.
//
// This file exposes REST endpoints for platform connections:
//   - GET    /connections                 (list)
//   - POST   /connections                 (register or refresh)
//   - DELETE /connections/{id}            (remove, cascading mappings)
//   - GET    /connections/{id}/channels   (postable channels)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/services"
)

// RegisterConnectionRequest is the JSON payload for registering an
// installation. The access token is stored but never returned.
type RegisterConnectionRequest struct {
	Platform    string `json:"platform"     binding:"required" example:"slack"`
	ExternalID  string `json:"external_id"  binding:"required" example:"T0123456"`
	DisplayName string `json:"display_name" example:"Acme workspace"`
	AccessToken string `json:"access_token" example:"xoxb-..."`
	BotUserID   string `json:"bot_user_id"  example:"U0BOT"`
}

// ListConnectionsResponse wraps the caller's connections.
type ListConnectionsResponse struct {
	Connections []domain.Connection `json:"connections"`
}

// ListChannelsResponse wraps the channels of one community.
type ListChannelsResponse struct {
	Channels []platform.Channel `json:"channels"`
}

// ListConnections godoc
// @ID          listConnections
// @Summary     List connections
// @Tags        Connections
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ListConnectionsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /connections [get]
func (h *Handlers) ListConnections(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	items, err := h.connSvc.List(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListConnectionsResponse{Connections: items})
}

// RegisterConnection godoc
// @ID          registerConnection
// @Summary     Register or refresh a connection
// @Description Records the bridge's installation in a Slack workspace or Discord guild. Re-registering refreshes credentials.
// @Tags        Connections
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RegisterConnectionRequest  true  "Connection"
// @Success     201  {object}  domain.Connection
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Connected by another user"
// @Router      /connections [post]
func (h *Handlers) RegisterConnection(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	var req RegisterConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	conn, err := h.connSvc.Register(c.Request.Context(), uid, services.RegisterConnectionInput{
		Platform:    req.Platform,
		ExternalID:  req.ExternalID,
		DisplayName: req.DisplayName,
		AccessToken: req.AccessToken,
		BotUserID:   req.BotUserID,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, conn)
}

// DeleteConnection godoc
// @ID          deleteConnection
// @Summary     Delete a connection and its mappings
// @Tags        Connections
// @Security    BearerAuth
// @Param       id  path  string  true  "Connection ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Router      /connections/{id} [delete]
func (h *Handlers) DeleteConnection(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	if err := h.connSvc.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListChannels godoc
// @ID          listChannels
// @Summary     List postable channels of a connection
// @Tags        Connections
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Connection ID"  format(uuid)
// @Success     200  {object}  handlers.ListChannelsResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Platform error"
// @Router      /connections/{id}/channels [get]
func (h *Handlers) ListChannels(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}
	chs, err := h.connSvc.Channels(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListChannelsResponse{Channels: chs})
}
