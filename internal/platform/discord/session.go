// Package discord implements the platform adapter for Discord guilds.
//
// Discord is a streaming platform: a single bot session holds a gateway
// connection and receives MessageCreate events for every guild the bot has
// joined. Inbound authenticity is therefore a property of the session (it
// authenticated with the bot token) rather than of each delivery.
package discord

import (
	"github.com/bwmarrin/discordgo"
)

// Session is the subset of *discordgo.Session used by the adapter. Tests
// substitute a fake.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ Session = (*discordgo.Session)(nil)

// Intents the bridge needs: guild metadata, guild messages and their text.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

// NewSession builds a gateway session for a bot token.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = Intents
	return s, nil
}
