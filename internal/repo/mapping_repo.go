// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChannelMapping model: owner-scoped CRUD for the management API and the
// identity-keyed active lookup used by the relay path.
//
// Error semantics:
//   - Missing or foreign-owned rows return ErrNotFound.
//   - Inserts that hit the unordered channel-pair unique index return ErrDuplicate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// CreateMapping inserts m with a fresh id and pair key.
func CreateMapping(ctx context.Context, db *gorm.DB, m *domain.ChannelMapping) (*domain.ChannelMapping, error) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.SetPair()
	m.CreatedAt, m.UpdatedAt = now, now

	if err := db.WithContext(ctx).Omit("SourceConnection", "DestConnection").Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// MappingPairExists reports whether any mapping already covers the unordered
// pair (a, b).
func MappingPairExists(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	lo, hi := domain.SortedPair(a, b)
	var n int64
	err := db.WithContext(ctx).Model(&domain.ChannelMapping{}).
		Where("pair_low = ? AND pair_high = ?", lo, hi).
		Count(&n).Error
	return n > 0, err
}

// GetMapping fetches a mapping by id owned by ownerID.
func GetMapping(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.ChannelMapping, error) {
	var m domain.ChannelMapping
	if err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMappings returns the number of mappings owned by ownerID.
func CountMappings(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ChannelMapping{}).
		Where("owner_id = ?", ownerID).
		Count(&n).Error
	return n, err
}

// ListMappingsPage returns a page of mappings for ownerID, newest first.
func ListMappingsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.ChannelMapping, error) {
	var out []domain.ChannelMapping
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// SetMappingActive toggles the active flag of a mapping owned by ownerID.
// Ledger history is untouched.
func SetMappingActive(ctx context.Context, db *gorm.DB, id, ownerID string, active bool) error {
	res := db.WithContext(ctx).Model(&domain.ChannelMapping{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMapping removes a mapping owned by ownerID. Its ledger rows stay
// until the retention purge so that relay products already posted keep
// being recognized.
func DeleteMapping(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	res := db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&domain.ChannelMapping{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveMappingsFor returns active mappings where (p, channelID) occupies
// either slot, ordered by creation. Lookup is keyed by channel identity only;
// ownership was checked when the mapping was created.
func ActiveMappingsFor(ctx context.Context, db *gorm.DB, p domain.Platform, channelID string) ([]domain.ChannelMapping, error) {
	var out []domain.ChannelMapping
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Where(db.Where("source_platform = ? AND source_channel_id = ?", p, channelID).
			Or("dest_platform = ? AND dest_channel_id = ?", p, channelID)).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}
