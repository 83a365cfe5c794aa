package format

import "strings"

var slackGrammar = &grammar{
	spans: []span{
		{marker: "*", kind: kBold, boundary: true},
		{marker: "_", kind: kItalic, boundary: true},
		{marker: "~", kind: kStrike, boundary: true},
	},
	angle:      slackAngle,
	decodeText: slackUnescape,
}

var (
	slackUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
	slackEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

func slackUnescape(s string) string { return slackUnescaper.Replace(s) }

// slackEscape encodes control characters for Slack, leaving a "> " quote
// marker at the start of a line intact.
func slackEscape(s string) string { return escapeLines(s, slackEscaper) }

// slackAngle parses the inside of a Slack "<...>" construct: user, channel
// and broadcast mentions, user groups, dates and links.
func slackAngle(inner string) (node, bool) {
	if inner == "" {
		return node{}, false
	}
	switch inner[0] {
	case '@':
		id, label := splitPipe(inner[1:])
		if id == "" {
			return node{}, false
		}
		return node{kind: kUser, id: id, text: strings.TrimPrefix(label, "@")}, true
	case '#':
		id, label := splitPipe(inner[1:])
		if id == "" {
			return node{}, false
		}
		return node{kind: kChannel, id: id, text: strings.TrimPrefix(label, "#")}, true
	case '!':
		cmd, label := splitPipe(inner[1:])
		switch {
		case cmd == "here" || cmd == "channel" || cmd == "everyone":
			return node{kind: kSpecial, text: "@" + cmd}, true
		case strings.HasPrefix(cmd, "subteam^"):
			if label == "" {
				label = "@group"
			}
			return node{kind: kSpecial, text: label}, true
		case strings.HasPrefix(cmd, "date^") && label != "":
			return node{kind: kText, text: slackUnescape(label)}, true
		}
		return node{}, false
	}
	url, label := splitPipe(inner)
	if isURL(url) || strings.HasPrefix(url, "mailto:") {
		return node{kind: kLink, url: slackUnescape(url), text: slackUnescape(label)}, true
	}
	return node{}, false
}

// renderSlack emits a token tree parsed from Discord as Slack mrkdwn.
func renderSlack(nodes []node, r Resolver) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.kind {
		case kText:
			b.WriteString(slackEscape(n.text))
		case kCode:
			b.WriteString(n.text)
		case kUser:
			b.WriteString("*@" + slackEscape(userLabel(n, r)) + "*")
		case kChannel:
			b.WriteString("#" + slackEscape(channelLabel(n, r)))
		case kRole:
			b.WriteString("@role")
		case kSpecial:
			b.WriteString(slackEscape(n.text))
		case kEmoji:
			b.WriteString(":" + n.text + ":")
		case kLink:
			if n.text == "" || n.text == n.url {
				b.WriteString("<" + n.url + ">")
			} else {
				b.WriteString("<" + n.url + "|" + slackEscape(n.text) + ">")
			}
		case kBold:
			b.WriteString("*" + renderSlack(n.children, r) + "*")
		case kItalic, kUnderline:
			b.WriteString("_" + renderSlack(n.children, r) + "_")
		case kStrike:
			b.WriteString("~" + renderSlack(n.children, r) + "~")
		case kSpoiler:
			b.WriteString("[spoiler: " + renderSlack(n.children, r) + "]")
		}
	}
	return b.String()
}
