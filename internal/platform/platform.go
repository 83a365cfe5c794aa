// Package platform defines the capability boundary between the relay engine
// and a concrete chat platform.
//
// An Adapter is constructed once per platform at startup. For each Connection
// record it hands out a Client, the per-connection capability carrying that
// connection's credentials. Clients are built from the record on demand and
// never cached globally. The relay Dispatcher only ever sees these
// interfaces, so the Slack and Discord packages do not know about each other.
package platform

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// Adapter is one platform's entry point.
type Adapter interface {
	// Platform identifies the adapter.
	Platform() domain.Platform

	// BotUserID returns the bridge's own user id within conn's community.
	BotUserID(conn *domain.Connection) string

	// Client returns the capability for calling the platform API on behalf
	// of conn.
	Client(conn *domain.Connection) (Client, error)

	// VerifyInbound checks the authenticity of a raw inbound delivery.
	// Push platforms validate signature and timestamp; streaming platforms
	// validate that the trusted session is established. Failures wrap
	// domain.ErrAuthenticity.
	VerifyInbound(raw RawInbound) error
}

// Client is the per-connection platform capability. Failed API calls return
// errors wrapping domain.ErrDownstream.
type Client interface {
	// SendMessage posts msg to channelID and returns the platform message id.
	SendMessage(ctx context.Context, channelID string, msg OutboundMessage) (string, error)

	// FetchChannels lists postable channels of the community, sorted by name.
	FetchChannels(ctx context.Context, communityID string) ([]Channel, error)

	// ResolveUserDisplayName looks up a user. Unknown users return an error
	// wrapping domain.ErrNotFound.
	ResolveUserDisplayName(ctx context.Context, userID string) (*UserProfile, error)

	// ChannelName resolves a channel id to its display name.
	ChannelName(ctx context.Context, channelID string) (string, error)

	// PublicFileURL returns a URL for att that the other platform can fetch
	// without credentials.
	PublicFileURL(ctx context.Context, att Attachment) (string, error)
}

// RawInbound is an undecoded delivery as received by a transport.
type RawInbound struct {
	Header http.Header
	Body   []byte
}

// Channel is a postable channel.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserProfile is the display identity of a platform user.
type UserProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AttachmentKind classifies how an attachment is rendered.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentLink  AttachmentKind = "link"
)

// Attachment is a file, image or link embed carried by a message.
type Attachment struct {
	ID       string
	Name     string
	MimeType string
	// URL is the best URL the source platform gave us; it may require
	// credentials or expire.
	URL string
	// Permalink is an optional public permalink supplied with the event.
	Permalink   string
	Title       string
	Description string
	// Link embeds only.
	Kind AttachmentKind
}

// Classify derives the rendering kind from the explicit Kind or the MIME
// type and file extension.
func (a Attachment) Classify() AttachmentKind {
	if a.Kind != "" {
		return a.Kind
	}
	if strings.HasPrefix(strings.ToLower(a.MimeType), "image/") {
		return AttachmentImage
	}
	name := strings.ToLower(a.Name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return AttachmentImage
		}
	}
	return AttachmentFile
}

// RenderedAttachment is an attachment with its resolved URL.
type RenderedAttachment struct {
	Kind        AttachmentKind
	Name        string
	URL         string
	Title       string
	Description string
}

// OutboundMessage is a destination-native message: body already translated
// into the destination dialect plus attribution.
type OutboundMessage struct {
	// AuthorName and AuthorAvatarURL attribute the original sender.
	AuthorName      string
	AuthorAvatarURL string
	// SourcePlatform is the platform the message came from.
	SourcePlatform domain.Platform
	// Text is the translated body.
	Text        string
	Attachments []RenderedAttachment
}

// InboundEvent is a platform message normalized for the Dispatcher.
type InboundEvent struct {
	Platform    domain.Platform
	CommunityID string
	ChannelID   string
	MessageID   string
	AuthorID    string
	// AuthorIsBot is set when the platform marks the author as a bot.
	AuthorIsBot bool
	// AuthorName and AuthorAvatarURL are filled when the transport already
	// knows them; otherwise the Dispatcher resolves the author.
	AuthorName      string
	AuthorAvatarURL string
	Text            string
	// MentionNames carries display names the transport already resolved,
	// keyed by user id.
	MentionNames map[string]string
	Attachments  []Attachment
}

// SortChannels orders channels by name using locale-aware collation, with
// ids breaking ties.
func SortChannels(chs []Channel) {
	col := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(chs, func(i, j int) bool {
		if c := col.CompareString(chs[i].Name, chs[j].Name); c != 0 {
			return c < 0
		}
		return chs[i].ID < chs[j].ID
	})
}
