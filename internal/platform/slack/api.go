// Package slack implements the platform adapter for Slack workspaces.
//
// Inbound traffic is push-based: Slack delivers Events API callbacks to the
// bridge's webhook, which are authenticated with the app signing secret
// (see Verifier) and decoded by ParseEvent. Outbound calls use the
// workspace bot token stored on the Connection record.
package slack

import (
	"context"

	"github.com/slack-go/slack"
)

// API is the subset of the Slack Web API used by the bridge. It exists so
// tests can substitute a fake for *slack.Client.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slack.User, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	ShareFilePublicURLContext(ctx context.Context, fileID string) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
}

var _ API = (*slack.Client)(nil)

// NewAPI builds a Slack Web API client for token. An empty apiURL keeps the
// library default.
func NewAPI(token, apiURL string) API {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return slack.New(token, opts...)
}
