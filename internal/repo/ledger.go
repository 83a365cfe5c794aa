// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the relay ledger: the record of relayed
// message identities used to suppress duplicates and break bridge loops.
//
// Claim protocol, per (source platform, source message id, mapping id):
//
//	Claim    -> insert a pending row (ON CONFLICT DO NOTHING); first writer wins
//	Complete -> store the destination message id once the send succeeded
//	Release  -> drop the pending row after a failed send so a redelivery can retry
//
// A pending row older than ClaimTimeout is considered abandoned (process
// crash mid-send) and can be taken over by the next claimant.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// LedgerKey identifies one relay of one inbound message to one mapping.
type LedgerKey struct {
	SourcePlatform  domain.Platform
	SourceMessageID string
	MappingID       string
}

// Ledger is the gorm-backed dedup and loop-prevention store.
type Ledger struct {
	DB           *gorm.DB
	ClaimTimeout time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// NewLedger returns a Ledger over db.
func NewLedger(db *gorm.DB, claimTimeout time.Duration) *Ledger {
	return &Ledger{DB: db, ClaimTimeout: claimTimeout}
}

func (l *Ledger) clock() time.Time {
	if l.now != nil {
		return l.now().UTC()
	}
	return time.Now().UTC()
}

// IsRelayProduct reports whether messageID in channelID, observed on
// platform p, is a message the bridge itself posted there. Pending claims
// never match.
func (l *Ledger) IsRelayProduct(ctx context.Context, p domain.Platform, channelID, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var n int64
	err := l.DB.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("target_channel_id = ? AND target_message_id = ? AND source_platform <> ?", channelID, messageID, p).
		Count(&n).Error
	return n > 0, err
}

// Claim atomically reserves the relay identified by k. It returns true when
// the caller now owns the send, false when another delivery already relayed
// or is relaying it.
func (l *Ledger) Claim(ctx context.Context, k LedgerKey) (bool, error) {
	now := l.clock()
	entry := &domain.LedgerEntry{
		ID:              uuid.NewString(),
		SourcePlatform:  k.SourcePlatform,
		SourceMessageID: k.SourceMessageID,
		MappingID:       k.MappingID,
		CreatedAt:       now,
	}
	res := l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if l.ClaimTimeout <= 0 {
		return false, nil
	}

	// Take over an abandoned pending claim. The conditional update is the
	// arbiter: only one concurrent claimant can move created_at forward.
	res = l.keyed(ctx, k).
		Where("target_message_id = ? AND created_at < ?", "", now.Add(-l.ClaimTimeout)).
		Update("created_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Complete records where a claimed relay landed.
func (l *Ledger) Complete(ctx context.Context, k LedgerKey, targetChannelID, targetMessageID string) error {
	res := l.keyed(ctx, k).
		Where("target_message_id = ?", "").
		Updates(map[string]any{
			"target_channel_id": targetChannelID,
			"target_message_id": targetMessageID,
			"created_at":        l.clock(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Release deletes a still-pending claim.
func (l *Ledger) Release(ctx context.Context, k LedgerKey) error {
	return l.DB.WithContext(ctx).
		Where("source_platform = ? AND source_message_id = ? AND mapping_id = ? AND target_message_id = ?",
			k.SourcePlatform, k.SourceMessageID, k.MappingID, "").
		Delete(&domain.LedgerEntry{}).Error
}

// Purge deletes entries created before cutoff in batches of at most batch
// rows, each in its own short statement, so concurrent claims are never
// blocked behind one long delete. It returns the number of rows removed.
func (l *Ledger) Purge(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		sub := l.DB.Model(&domain.LedgerEntry{}).
			Select("id").
			Where("created_at < ?", cutoff.UTC()).
			Limit(batch)
		res := l.DB.WithContext(ctx).Where("id IN (?)", sub).Delete(&domain.LedgerEntry{})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if res.RowsAffected < int64(batch) {
			return total, nil
		}
	}
}

// Get returns the entry for k.
func (l *Ledger) Get(ctx context.Context, k LedgerKey) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := l.keyed(ctx, k).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (l *Ledger) keyed(ctx context.Context, k LedgerKey) *gorm.DB {
	return l.DB.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("source_platform = ? AND source_message_id = ? AND mapping_id = ?",
			k.SourcePlatform, k.SourceMessageID, k.MappingID)
}
