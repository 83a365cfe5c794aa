// Package domain defines the persistence models of the bridge: platform
// connections, channel mappings and the relay ledger. These types are mapped
// with GORM and shared by the repository, relay and HTTP layers.
package domain

import (
	"strings"
	"time"
)

// Platform identifies one of the bridged chat platforms.
type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformSlack, PlatformDiscord:
		return true
	}
	return false
}

// ParsePlatform normalizes s into a Platform, returning ErrValidation for
// unknown values.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrValidation
	}
	return p, nil
}

// Connection is an authorized installation of the bridge in one community
// (a Slack workspace or a Discord guild), owned by a single user.
//
// Fields:
//   - ExternalID: the platform's community identifier (team id / guild id).
//     Unique together with Platform.
//   - AccessToken: platform credential; never serialized.
//   - BotUserID: the bridge's own user id inside the community, used by the
//     self-authorship guard.
type Connection struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OwnerID     string    `json:"owner_id"     gorm:"type:varchar(64);not null;index:idx_connections_owner"`
	Platform    Platform  `json:"platform"     gorm:"type:varchar(16);not null;uniqueIndex:ux_connections_external,priority:1"`
	ExternalID  string    `json:"external_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_connections_external,priority:2"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	AccessToken string    `json:"-"            gorm:"type:text"`
	BotUserID   string    `json:"bot_user_id"  gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string { return "connections" }

// ChannelMapping associates a channel on one platform with a channel on the
// other. Relay flows in both directions; "source" and "dest" only name the
// two slots. The unordered channel pair is unique via PairLow/PairHigh.
type ChannelMapping struct {
	ID                 string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	OwnerID            string    `json:"owner_id"             gorm:"type:varchar(64);not null;index:idx_mappings_owner"`
	SourceConnectionID string    `json:"source_connection_id" gorm:"type:char(36);not null;index"`
	SourcePlatform     Platform  `json:"source_platform"      gorm:"type:varchar(16);not null;index:idx_mappings_source,priority:1"`
	SourceChannelID    string    `json:"source_channel_id"    gorm:"type:varchar(64);not null;index:idx_mappings_source,priority:2"`
	SourceChannelName  string    `json:"source_channel_name"  gorm:"type:varchar(255)"`
	DestConnectionID   string    `json:"dest_connection_id"   gorm:"type:char(36);not null;index"`
	DestPlatform       Platform  `json:"dest_platform"        gorm:"type:varchar(16);not null;index:idx_mappings_dest,priority:1"`
	DestChannelID      string    `json:"dest_channel_id"      gorm:"type:varchar(64);not null;index:idx_mappings_dest,priority:2"`
	DestChannelName    string    `json:"dest_channel_name"    gorm:"type:varchar(255)"`
	Active             bool      `json:"active"               gorm:"not null"`
	PairLow            string    `json:"-"                    gorm:"type:varchar(64);not null;uniqueIndex:ux_mappings_pair,priority:1"`
	PairHigh           string    `json:"-"                    gorm:"type:varchar(64);not null;uniqueIndex:ux_mappings_pair,priority:2"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Mappings are cascade-deleted with either of their connections.
	SourceConnection Connection `json:"-" gorm:"foreignKey:SourceConnectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	DestConnection   Connection `json:"-" gorm:"foreignKey:DestConnectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChannelMapping.
func (ChannelMapping) TableName() string { return "channel_mappings" }

// SetPair fills PairLow/PairHigh from the two channel ids so that (a, b) and
// (b, a) collide on the unique index.
func (m *ChannelMapping) SetPair() {
	m.PairLow, m.PairHigh = SortedPair(m.SourceChannelID, m.DestChannelID)
}

// SortedPair returns a and b in lexical order.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Route is one relay destination derived from a mapping.
type Route struct {
	MappingID    string
	Platform     Platform
	ConnectionID string
	ChannelID    string
	ChannelName  string
}

// RouteFrom returns the side of m opposite to (p, channelID). ok is false when
// the channel is not part of the mapping.
func (m ChannelMapping) RouteFrom(p Platform, channelID string) (Route, bool) {
	switch {
	case m.SourcePlatform == p && m.SourceChannelID == channelID:
		return Route{
			MappingID:    m.ID,
			Platform:     m.DestPlatform,
			ConnectionID: m.DestConnectionID,
			ChannelID:    m.DestChannelID,
			ChannelName:  m.DestChannelName,
		}, true
	case m.DestPlatform == p && m.DestChannelID == channelID:
		return Route{
			MappingID:    m.ID,
			Platform:     m.SourcePlatform,
			ConnectionID: m.SourceConnectionID,
			ChannelID:    m.SourceChannelID,
			ChannelName:  m.SourceChannelName,
		}, true
	}
	return Route{}, false
}

// LedgerEntry records one relayed message per destination mapping.
//
// A row with an empty TargetMessageID is a pending claim: a dispatcher owns
// the send but has not completed it yet. Completed rows are what loop
// prevention matches against, keyed by (target channel, target message),
// since Slack message ids are timestamps unique only within a channel.
//
// MappingID carries no foreign key: rows outlive their mapping and connection
// and are removed only by the retention purge.
type LedgerEntry struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	SourcePlatform  Platform  `json:"source_platform"   gorm:"type:varchar(16);not null;uniqueIndex:ux_ledger_source,priority:1"`
	SourceMessageID string    `json:"source_message_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_ledger_source,priority:2"`
	MappingID       string    `json:"mapping_id"        gorm:"type:char(36);not null;uniqueIndex:ux_ledger_source,priority:3"`
	TargetChannelID string    `json:"target_channel_id" gorm:"type:varchar(128);not null;default:'';index:idx_ledger_target,priority:1"`
	TargetMessageID string    `json:"target_message_id" gorm:"type:varchar(128);not null;default:'';index:idx_ledger_target,priority:2"`
	CreatedAt       time.Time `json:"created_at"        gorm:"not null;index:idx_ledger_created"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string { return "relay_ledger" }

// Pending reports whether the entry is an uncompleted claim.
func (e LedgerEntry) Pending() bool { return e.TargetMessageID == "" }
