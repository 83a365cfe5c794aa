package slack

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/sysutil"
)

// pageLimit is the conversations.list page size.
const pageLimit = 1000

var pubSecretRe = regexp.MustCompile(`pub_secret=([^&]+)`)

// Adapter is the Slack platform.Adapter.
type Adapter struct {
	verifier *Verifier
	newAPI   func(token string) API
}

var _ platform.Adapter = (*Adapter)(nil)

// NewAdapter wires the webhook verifier and the API base URL (empty for
// the public Slack API).
func NewAdapter(v *Verifier, apiURL string) *Adapter {
	return &Adapter{
		verifier: v,
		newAPI:   func(token string) API { return NewAPI(token, apiURL) },
	}
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() domain.Platform { return domain.PlatformSlack }

// BotUserID implements platform.Adapter. Slack bot ids are per workspace and
// recorded on the Connection at registration.
func (a *Adapter) BotUserID(conn *domain.Connection) string {
	if conn == nil {
		return ""
	}
	return conn.BotUserID
}

// Client implements platform.Adapter.
func (a *Adapter) Client(conn *domain.Connection) (platform.Client, error) {
	if conn == nil || conn.Platform != domain.PlatformSlack {
		return nil, domain.Validationf("not a slack connection")
	}
	if conn.AccessToken == "" {
		return nil, domain.Validationf("slack connection %s has no access token", conn.ExternalID)
	}
	return &Client{api: a.newAPI(conn.AccessToken)}, nil
}

// VerifyInbound implements platform.Adapter.
func (a *Adapter) VerifyInbound(raw platform.RawInbound) error {
	if a.verifier == nil {
		return fmt.Errorf("%w: no verifier", domain.ErrAuthenticity)
	}
	return a.verifier.Verify(raw.Header, raw.Body)
}

// Client is the per-workspace capability.
type Client struct {
	api API
}

var _ platform.Client = (*Client)(nil)

// NewClient wraps an API handle. Mostly useful in tests.
func NewClient(api API) *Client { return &Client{api: api} }

// SendMessage posts msg under the original author's name and avatar. Images
// become legacy attachments so Slack previews them; other files are listed
// as links after the body.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.OutboundMessage) (string, error) {
	text := msg.Text
	var atts []slack.Attachment
	for _, a := range msg.Attachments {
		switch a.Kind {
		case platform.AttachmentImage:
			atts = append(atts, slack.Attachment{
				Title:     a.Name,
				TitleLink: a.URL,
				ImageURL:  a.URL,
				Fallback:  a.Name,
			})
		case platform.AttachmentLink:
			atts = append(atts, slack.Attachment{
				Title:     sysutil.FirstNonEmpty(a.Title, a.URL),
				TitleLink: a.URL,
				Text:      a.Description,
				Fallback:  a.URL,
			})
		default:
			text = appendLine(text, "📎 <"+a.URL+"|"+escapeLabel(a.Name)+">")
		}
	}
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if msg.AuthorName != "" {
		name := msg.AuthorName
		if msg.SourcePlatform != "" {
			name = fmt.Sprintf("%s (%s)", msg.AuthorName, msg.SourcePlatform)
		}
		opts = append(opts, slack.MsgOptionUsername(name))
	}
	if msg.AuthorAvatarURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(msg.AuthorAvatarURL))
	}
	if len(atts) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(atts...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", domain.Downstream(domain.PlatformSlack, "chat.postMessage", err)
	}
	return ts, nil
}

// FetchChannels lists public and private channels the bot can see, skipping
// archived ones.
func (c *Client) FetchChannels(ctx context.Context, _ string) ([]platform.Channel, error) {
	var out []platform.Channel
	cursor := ""
	for {
		chs, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           pageLimit,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, domain.Downstream(domain.PlatformSlack, "conversations.list", err)
		}
		for _, ch := range chs {
			if ch.IsArchived {
				continue
			}
			out = append(out, platform.Channel{ID: ch.ID, Name: ch.Name})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	platform.SortChannels(out)
	return out, nil
}

// ResolveUserDisplayName prefers the real name over the handle.
func (c *Client) ResolveUserDisplayName(ctx context.Context, userID string) (*platform.UserProfile, error) {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		if apiError(err, "user_not_found") {
			return nil, fmt.Errorf("%w: slack user %s", domain.ErrNotFound, userID)
		}
		return nil, domain.Downstream(domain.PlatformSlack, "users.info", err)
	}
	return &platform.UserProfile{
		ID:        u.ID,
		Name:      sysutil.FirstNonEmpty(u.RealName, u.Name, userID),
		AvatarURL: u.Profile.Image72,
	}, nil
}

// ChannelName implements platform.Client.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		if apiError(err, "channel_not_found") {
			return "", fmt.Errorf("%w: slack channel %s", domain.ErrNotFound, channelID)
		}
		return "", domain.Downstream(domain.PlatformSlack, "conversations.info", err)
	}
	return ch.Name, nil
}

// PublicFileURL shares a workspace file publicly and returns a direct
// download URL Discord can fetch without a token.
func (c *Client) PublicFileURL(ctx context.Context, att platform.Attachment) (string, error) {
	if att.ID == "" {
		if u := publicURL(att.URL, att.Permalink); u != "" {
			return u, nil
		}
		return "", domain.Validationf("slack attachment without file id")
	}
	f, _, _, err := c.api.ShareFilePublicURLContext(ctx, att.ID)
	if err != nil && apiError(err, "already_public") {
		f, _, _, err = c.api.GetFileInfoContext(ctx, att.ID, 0, 0)
	}
	if err != nil {
		return "", domain.Downstream(domain.PlatformSlack, "files.sharedPublicURL", err)
	}
	if f == nil {
		return "", domain.Downstream(domain.PlatformSlack, "files.sharedPublicURL", errors.New("empty file"))
	}
	u := publicURL(sysutil.FirstNonEmpty(f.URLPrivate, att.URL), sysutil.FirstNonEmpty(f.PermalinkPublic, att.Permalink))
	if u == "" {
		return "", domain.Downstream(domain.PlatformSlack, "files.sharedPublicURL", errors.New("file has no public link"))
	}
	return u, nil
}

// publicURL combines the private download URL with the pub_secret found in
// the public permalink. Without a secret the permalink itself is returned.
func publicURL(private, permalink string) string {
	if m := pubSecretRe.FindStringSubmatch(permalink); m != nil && private != "" {
		return private + "?pub_secret=" + m[1]
	}
	return permalink
}

func apiError(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

func appendLine(text, line string) string {
	if text == "" {
		return line
	}
	return text + "\n" + line
}

var labelEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "|", "¦")

func escapeLabel(s string) string { return labelEscaper.Replace(s) }
