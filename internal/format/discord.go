package format

import "strings"

var discordGrammar = &grammar{
	spans: []span{
		{marker: "||", kind: kSpoiler},
		{marker: "**", kind: kBold},
		{marker: "__", kind: kUnderline},
		{marker: "~~", kind: kStrike},
		{marker: "*", kind: kItalic},
		{marker: "_", kind: kItalic, boundary: true},
	},
	angle:        discordAngle,
	bracketLinks: true,
	bareURLs:     true,
	escapes:      true,
}

// discordAngle parses the inside of a Discord "<...>" construct: user, role
// and channel mentions, custom emoji and embed-suppressed links. Timestamps
// and anything else stay literal text.
func discordAngle(inner string) (node, bool) {
	switch {
	case strings.HasPrefix(inner, "@&"):
		if id := inner[2:]; isDigits(id) {
			return node{kind: kRole, id: id}, true
		}
	case strings.HasPrefix(inner, "@!"):
		if id := inner[2:]; isDigits(id) {
			return node{kind: kUser, id: id}, true
		}
	case strings.HasPrefix(inner, "@"):
		if id := inner[1:]; isDigits(id) {
			return node{kind: kUser, id: id}, true
		}
	case strings.HasPrefix(inner, "#"):
		if id := inner[1:]; isDigits(id) {
			return node{kind: kChannel, id: id}, true
		}
	case strings.HasPrefix(inner, ":"), strings.HasPrefix(inner, "a:"):
		parts := strings.Split(strings.TrimPrefix(inner, "a"), ":")
		if len(parts) == 3 && parts[0] == "" && parts[1] != "" && isDigits(parts[2]) {
			return node{kind: kEmoji, id: parts[2], text: parts[1]}, true
		}
	case isURL(inner) && !strings.ContainsAny(inner, " \n"):
		return node{kind: kLink, url: inner}, true
	}
	return node{}, false
}

var discordEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"|", `\|`,
	"`", "\\`",
	"<", `\<`,
	">", `\>`,
)

// discordEscape backslash-escapes Markdown and mention syntax in literal
// text, leaving a "> " quote marker at the start of a line intact.
func discordEscape(s string) string { return escapeLines(s, discordEscaper) }

// renderDiscord emits a token tree parsed from Slack as Discord Markdown.
func renderDiscord(nodes []node, r Resolver) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.kind {
		case kText, kSpecial:
			b.WriteString(discordEscape(n.text))
		case kCode:
			b.WriteString(n.text)
		case kUser:
			b.WriteString("**@" + discordEscape(userLabel(n, r)) + "**")
		case kChannel:
			b.WriteString("#" + discordEscape(channelLabel(n, r)))
		case kRole:
			b.WriteString("@role")
		case kEmoji:
			b.WriteString(":" + n.text + ":")
		case kLink:
			if n.text == "" || n.text == n.url {
				b.WriteString(n.url)
			} else {
				b.WriteString("[" + n.text + "](" + n.url + ")")
			}
		case kBold:
			b.WriteString("**" + renderDiscord(n.children, r) + "**")
		case kItalic:
			b.WriteString("*" + renderDiscord(n.children, r) + "*")
		case kStrike:
			b.WriteString("~~" + renderDiscord(n.children, r) + "~~")
		case kUnderline:
			b.WriteString("__" + renderDiscord(n.children, r) + "__")
		case kSpoiler:
			b.WriteString("||" + renderDiscord(n.children, r) + "||")
		}
	}
	return b.String()
}
