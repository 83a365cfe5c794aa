package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// Registry exposes the read side the relay path needs (connection and
// mapping lookups by platform identity) as methods over a shared handle.
type Registry struct {
	DB *gorm.DB
}

// ActiveMappingsFor proxies ActiveMappingsFor.
func (r Registry) ActiveMappingsFor(ctx context.Context, p domain.Platform, channelID string) ([]domain.ChannelMapping, error) {
	return ActiveMappingsFor(ctx, r.DB, p, channelID)
}

// ConnectionByExternal proxies GetConnectionByExternal.
func (r Registry) ConnectionByExternal(ctx context.Context, p domain.Platform, externalID string) (*domain.Connection, error) {
	return GetConnectionByExternal(ctx, r.DB, p, externalID)
}

// ConnectionByID proxies GetConnectionByID.
func (r Registry) ConnectionByID(ctx context.Context, id string) (*domain.Connection, error) {
	return GetConnectionByID(ctx, r.DB, id)
}
