package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
)

const (
	// maxContentLen is Discord's message content limit in characters.
	maxContentLen = 2000
	// maxEmbeds is Discord's per-message embed limit.
	maxEmbeds = 10
	avatarSize = "64"
)

// Sink receives normalized inbound messages. The relay Runner implements it.
type Sink interface {
	Submit(ev platform.InboundEvent) bool
}

// Config holds gateway connection settings.
type Config struct {
	Token string
	// MaxConnectAttempts bounds the initial gateway connection. Later
	// drops are handled by discordgo's own reconnect loop.
	MaxConnectAttempts int
	// MaxBackoff caps the exponential wait between connection attempts.
	MaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = 5
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
}

// Adapter is the Discord platform.Adapter.
type Adapter struct {
	cfg     Config
	session Session
	sink    Sink

	mu        sync.RWMutex
	botUserID string
	ready     atomic.Bool
	removers  []func()
}

var _ platform.Adapter = (*Adapter)(nil)

// NewAdapter returns an adapter that is not yet connected.
func NewAdapter(cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{cfg: cfg}
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() domain.Platform { return domain.PlatformDiscord }

// BotUserID implements platform.Adapter. One bot identity serves every
// guild, so the session's user id wins over the stored value.
func (a *Adapter) BotUserID(conn *domain.Connection) string {
	a.mu.RLock()
	id := a.botUserID
	a.mu.RUnlock()
	if id != "" || conn == nil {
		return id
	}
	return conn.BotUserID
}

// Client implements platform.Adapter. The returned client is scoped to the
// connection's guild and shares the bot session.
func (a *Adapter) Client(conn *domain.Connection) (platform.Client, error) {
	if conn == nil || conn.Platform != domain.PlatformDiscord {
		return nil, domain.Validationf("not a discord connection")
	}
	return &Client{adapter: a, guildID: conn.ExternalID}, nil
}

// VerifyInbound implements platform.Adapter. Gateway events are trusted
// once the session has received READY.
func (a *Adapter) VerifyInbound(platform.RawInbound) error {
	if !a.ready.Load() {
		return fmt.Errorf("%w: discord session not ready", domain.ErrAuthenticity)
	}
	return nil
}

// Ready reports whether the gateway session is established.
func (a *Adapter) Ready() bool { return a.ready.Load() }

// Start opens the gateway and forwards messages to sink.
func (a *Adapter) Start(ctx context.Context, sink Sink) error {
	if a.session == nil {
		if a.cfg.Token == "" {
			return domain.Validationf("discord bot token is required")
		}
		s, err := NewSession(a.cfg.Token)
		if err != nil {
			return fmt.Errorf("%w: discord session: %v", domain.ErrAuthenticity, err)
		}
		a.session = s
	}
	a.sink = sink

	a.removers = append(a.removers,
		a.session.AddHandler(a.handleReady),
		a.session.AddHandler(a.handleResumed),
		a.session.AddHandler(a.handleDisconnect),
		a.session.AddHandler(a.handleMessageCreate),
	)

	if err := a.connectWithRetry(ctx); err != nil {
		return domain.Downstream(domain.PlatformDiscord, "gateway.open", err)
	}
	log.Info().Str("platform", "discord").Msg("gateway connected")
	return nil
}

// Stop closes the gateway session.
func (a *Adapter) Stop() error {
	for _, rm := range a.removers {
		rm()
	}
	a.removers = nil
	a.ready.Store(false)
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) connectWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < a.cfg.MaxConnectAttempts; attempt++ {
		if err = a.session.Open(); err == nil {
			return nil
		}
		backoff := calculateBackoff(attempt, a.cfg.MaxBackoff)
		log.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("discord connect failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", a.cfg.MaxConnectAttempts, err)
}

// calculateBackoff doubles from one second, capped at maxWait.
func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	if attempt > 30 {
		return maxWait
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
	}
	a.ready.Store(true)
	log.Info().Int("guilds", len(r.Guilds)).Msg("discord session ready")
}

func (a *Adapter) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	a.ready.Store(true)
}

func (a *Adapter) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.ready.Store(false)
	log.Warn().Msg("discord gateway disconnected")
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	ev, ok := a.toInbound(m.Message)
	if !ok || a.sink == nil {
		return
	}
	if !a.sink.Submit(ev) {
		log.Warn().Str("channel_id", ev.ChannelID).Str("message_id", ev.MessageID).Msg("relay queue full, message dropped")
	}
}

// toInbound normalizes a guild text message. Direct messages, system
// messages and the bridge's own posts are rejected.
func (a *Adapter) toInbound(m *discordgo.Message) (platform.InboundEvent, bool) {
	if m.Author == nil || m.GuildID == "" {
		return platform.InboundEvent{}, false
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return platform.InboundEvent{}, false
	}
	if id := a.BotUserID(nil); id != "" && m.Author.ID == id {
		return platform.InboundEvent{}, false
	}

	ev := platform.InboundEvent{
		Platform:        domain.PlatformDiscord,
		CommunityID:     m.GuildID,
		ChannelID:       m.ChannelID,
		MessageID:       m.ID,
		AuthorID:        m.Author.ID,
		AuthorIsBot:     m.Author.Bot,
		AuthorName:      displayName(m.Member, m.Author),
		AuthorAvatarURL: m.Author.AvatarURL(avatarSize),
		Text:            m.Content,
	}
	if len(m.Mentions) > 0 {
		ev.MentionNames = make(map[string]string, len(m.Mentions))
		for _, u := range m.Mentions {
			ev.MentionNames[u.ID] = displayName(nil, u)
		}
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, platform.Attachment{
			ID:       att.ID,
			Name:     att.Filename,
			MimeType: att.ContentType,
			URL:      att.URL,
		})
	}
	for _, e := range m.Embeds {
		// Link previews Discord generated from the body would only repeat it.
		if e.URL == "" || strings.Contains(m.Content, e.URL) {
			continue
		}
		ev.Attachments = append(ev.Attachments, platform.Attachment{
			Kind:        platform.AttachmentLink,
			URL:         e.URL,
			Title:       e.Title,
			Description: e.Description,
		})
	}
	return ev, true
}

func displayName(member *discordgo.Member, u *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Client is the per-guild capability.
type Client struct {
	adapter *Adapter
	guildID string
}

var _ platform.Client = (*Client)(nil)

func (c *Client) session() (Session, error) {
	if c.adapter.session == nil {
		return nil, domain.Downstream(domain.PlatformDiscord, "session", errors.New("not connected"))
	}
	return c.adapter.session, nil
}

// SendMessage posts msg with a bold attribution line. Images and link
// previews become embeds; other files are listed as links. Mentions in the
// relayed text never ping anyone.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.OutboundMessage) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	send := buildMessage(msg)
	m, err := s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", domain.Downstream(domain.PlatformDiscord, "channel.message.send", err)
	}
	return m.ID, nil
}

func buildMessage(msg platform.OutboundMessage) *discordgo.MessageSend {
	var b strings.Builder
	if msg.AuthorName != "" {
		b.WriteString("**" + msg.AuthorName + "**")
		if msg.SourcePlatform != "" {
			b.WriteString(" (" + string(msg.SourcePlatform) + ")")
		}
		b.WriteString(":")
		if msg.Text != "" {
			b.WriteString("\n")
		}
	}
	b.WriteString(msg.Text)

	var embeds []*discordgo.MessageEmbed
	for _, a := range msg.Attachments {
		switch a.Kind {
		case platform.AttachmentImage:
			embeds = append(embeds, &discordgo.MessageEmbed{
				Title: a.Name,
				URL:   a.URL,
				Image: &discordgo.MessageEmbedImage{URL: a.URL},
			})
		case platform.AttachmentLink:
			title := a.Title
			if title == "" {
				title = a.URL
			}
			embeds = append(embeds, &discordgo.MessageEmbed{
				Title:       title,
				URL:         a.URL,
				Description: a.Description,
			})
		default:
			b.WriteString("\n📎 [" + a.Name + "](" + a.URL + ")")
		}
	}
	if len(embeds) > maxEmbeds {
		embeds = embeds[:maxEmbeds]
	}
	return &discordgo.MessageSend{
		Content:         truncate(b.String(), maxContentLen),
		Embeds:          embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// FetchChannels lists the guild's text channels.
func (c *Client) FetchChannels(ctx context.Context, communityID string) ([]platform.Channel, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	if communityID == "" {
		communityID = c.guildID
	}
	chs, err := s.GuildChannels(communityID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: discord guild %s", domain.ErrNotFound, communityID)
		}
		return nil, domain.Downstream(domain.PlatformDiscord, "guild.channels", err)
	}
	out := make([]platform.Channel, 0, len(chs))
	for _, ch := range chs {
		if ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews {
			out = append(out, platform.Channel{ID: ch.ID, Name: ch.Name})
		}
	}
	platform.SortChannels(out)
	return out, nil
}

// ResolveUserDisplayName prefers the guild nickname.
func (c *Client) ResolveUserDisplayName(ctx context.Context, userID string) (*platform.UserProfile, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	if c.guildID != "" {
		if mem, err := s.GuildMember(c.guildID, userID, discordgo.WithContext(ctx)); err == nil && mem.User != nil {
			return &platform.UserProfile{ID: userID, Name: displayName(mem, mem.User), AvatarURL: mem.User.AvatarURL(avatarSize)}, nil
		}
	}
	u, err := s.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: discord user %s", domain.ErrNotFound, userID)
		}
		return nil, domain.Downstream(domain.PlatformDiscord, "user", err)
	}
	return &platform.UserProfile{ID: u.ID, Name: displayName(nil, u), AvatarURL: u.AvatarURL(avatarSize)}, nil
}

// ChannelName implements platform.Client.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	ch, err := s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: discord channel %s", domain.ErrNotFound, channelID)
		}
		return "", domain.Downstream(domain.PlatformDiscord, "channel", err)
	}
	return ch.Name, nil
}

// PublicFileURL returns the CDN URL; Discord attachment URLs need no token.
func (c *Client) PublicFileURL(_ context.Context, att platform.Attachment) (string, error) {
	if att.URL == "" {
		return "", domain.Validationf("discord attachment %q has no url", att.Name)
	}
	return att.URL, nil
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	return errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}
