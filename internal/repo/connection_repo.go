// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Connection.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// UpsertConnection inserts c, or refreshes credentials and display fields of
// the existing row with the same (platform, external_id). The owner of an
// existing row never changes here; callers check ownership first.
func UpsertConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) (*domain.Connection, error) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt, c.UpdatedAt = now, now

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "access_token", "bot_user_id", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return nil, err
	}
	// On conflict the supplied ID was not used; reload the stored row.
	return GetConnectionByExternal(ctx, db, c.Platform, c.ExternalID)
}

// GetConnection fetches a connection by id owned by ownerID.
func GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnectionByID fetches a connection by id regardless of owner. Used by
// the relay path, which is keyed by identity, not by caller.
func GetConnectionByID(ctx context.Context, db *gorm.DB, id string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnectionByExternal looks a connection up by its community identity.
func GetConnectionByExternal(ctx context.Context, db *gorm.DB, p domain.Platform, externalID string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).
		Where("platform = ? AND external_id = ?", p, externalID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns all connections for ownerID ordered by platform
// then display name.
func ListConnections(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("platform ASC").Order("display_name ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListConnectionsByPlatform returns every connection of one platform. The
// Discord gateway uses it to decide which guilds are bridged.
func ListConnectionsByPlatform(ctx context.Context, db *gorm.DB, p domain.Platform) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).Where("platform = ?", p).Order("created_at ASC").Find(&out).Error
	return out, err
}

// DeleteConnection removes a connection owned by ownerID together with every
// mapping that references it. The explicit mapping delete keeps the cascade
// independent of the driver's foreign key enforcement. Ledger rows are left
// for the retention purge.
func DeleteConnection(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Connection
		if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&c).Error; err != nil {
			return err
		}
		var mappingIDs []string
		if err := tx.Model(&domain.ChannelMapping{}).
			Where("source_connection_id = ? OR dest_connection_id = ?", id, id).
			Pluck("id", &mappingIDs).Error; err != nil {
			return err
		}
		if len(mappingIDs) > 0 {
			if err := tx.Where("id IN ?", mappingIDs).Delete(&domain.ChannelMapping{}).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&domain.Connection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// IsNotFound reports whether err means "no such row".
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
