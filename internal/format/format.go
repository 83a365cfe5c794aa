// Package format translates message text between the Slack mrkdwn dialect and
// Discord Markdown.
//
// Translation is a single tokenize-then-render pass: the source dialect's
// grammar turns text into a token tree (mentions, links, emphasis, code...)
// and the destination renderer emits each token in its own syntax. Code spans
// are opaque to the grammar, so markers inside them are never rewritten.
//
// The conversion is intentionally lossy. Discord role mentions, spoilers and
// underline have no Slack equivalent and degrade to "@role", "[spoiler: ...]"
// and italic. Translating such text back does not restore the original.
// Plain bold, italic, strikethrough and links survive a round trip up to
// marker normalization (Discord "_x_" comes back as "*x*").
//
// Literal text bound for Discord is backslash-escaped, so stray markers and
// decoded entities such as "&lt;@123&gt;" stay text. Slack has no escape
// syntax: a Discord "\*x\*" arrives in Slack as "*x*" and renders bold there.
package format

// Direction selects the source and destination dialects.
type Direction int

const (
	// SlackToDiscord converts Slack mrkdwn to Discord Markdown.
	SlackToDiscord Direction = iota
	// DiscordToSlack converts Discord Markdown to Slack mrkdwn.
	DiscordToSlack
)

func (d Direction) String() string {
	switch d {
	case SlackToDiscord:
		return "slack->discord"
	case DiscordToSlack:
		return "discord->slack"
	}
	return "unknown"
}

// Dialect names a markup syntax.
type Dialect int

const (
	Slack Dialect = iota
	Discord
)

// Source returns the dialect text is parsed with for direction d.
func (d Direction) Source() Dialect {
	if d == DiscordToSlack {
		return Discord
	}
	return Slack
}

// Resolver supplies display names for mentioned users and channels. Lookups
// that miss fall back to any label carried in the text, then to a generic
// placeholder.
type Resolver interface {
	UserName(id string) (string, bool)
	ChannelName(id string) (string, bool)
}

// Names is a map-backed Resolver. The zero value resolves nothing.
type Names struct {
	Users    map[string]string
	Channels map[string]string
}

// UserName implements Resolver.
func (n Names) UserName(id string) (string, bool) {
	v, ok := n.Users[id]
	return v, ok && v != ""
}

// ChannelName implements Resolver.
func (n Names) ChannelName(id string) (string, bool) {
	v, ok := n.Channels[id]
	return v, ok && v != ""
}

// Translate converts text in direction dir. A nil resolver is allowed.
func Translate(dir Direction, text string, r Resolver) string {
	if text == "" {
		return ""
	}
	if r == nil {
		r = Names{}
	}
	switch dir {
	case SlackToDiscord:
		return renderDiscord(slackGrammar.parse(text), r)
	case DiscordToSlack:
		return renderSlack(discordGrammar.parse(text), r)
	}
	return text
}

// Mentions lists the distinct user and channel ids referenced by text in
// dialect d, in order of first appearance. Callers use it to build the
// Resolver before translating.
func Mentions(d Dialect, text string) (users, channels []string) {
	g := slackGrammar
	if d == Discord {
		g = discordGrammar
	}
	seenU := map[string]bool{}
	seenC := map[string]bool{}
	var walk func([]node)
	walk = func(nodes []node) {
		for _, n := range nodes {
			switch n.kind {
			case kUser:
				if !seenU[n.id] {
					seenU[n.id] = true
					users = append(users, n.id)
				}
			case kChannel:
				if !seenC[n.id] {
					seenC[n.id] = true
					channels = append(channels, n.id)
				}
			}
			walk(n.children)
		}
	}
	walk(g.parse(text))
	return users, channels
}

func userLabel(n node, r Resolver) string {
	if name, ok := r.UserName(n.id); ok {
		return name
	}
	if n.text != "" {
		return n.text
	}
	return "unknown"
}

func channelLabel(n node, r Resolver) string {
	if name, ok := r.ChannelName(n.id); ok {
		return name
	}
	if n.text != "" {
		return n.text
	}
	return "channel"
}
