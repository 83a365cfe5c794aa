package slack

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack/slackevents"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/sysutil"
)

// EventKind classifies a decoded Events API delivery.
type EventKind int

const (
	// EventIgnored is a valid delivery the bridge does not relay.
	EventIgnored EventKind = iota
	// EventChallenge is the one-time url_verification handshake.
	EventChallenge
	// EventMessage is a channel message to hand to the relay.
	EventMessage
)

// Event is the result of ParseEvent.
type Event struct {
	Kind      EventKind
	Challenge string
	Message   *platform.InboundEvent
	// Reason explains why an event was ignored.
	Reason string
}

// envelope carries the fields slackevents does not expose on MessageEvent.
type envelope struct {
	Type   string `json:"type"`
	TeamID string `json:"team_id"`
	Event  struct {
		Team  string `json:"team"`
		Files []struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Title           string `json:"title"`
			Mimetype        string `json:"mimetype"`
			URLPrivate      string `json:"url_private"`
			PermalinkPublic string `json:"permalink_public"`
		} `json:"files"`
	} `json:"event"`
}

// ParseEvent decodes an Events API body that has already passed Verify.
// Malformed payloads return an error wrapping domain.ErrValidation.
//
// Only plain channel messages and file shares are relayed. Edits, deletes,
// joins and other subtypes are ignored, as are messages posted by bots.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.Validationf("slack event body: %v", err)
	}

	switch env.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil || ch.Challenge == "" {
			return nil, domain.Validationf("url_verification without challenge")
		}
		return &Event{Kind: EventChallenge, Challenge: ch.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return &Event{Kind: EventIgnored, Reason: fmt.Sprintf("envelope type %q", env.Type)}, nil
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// Inner event types the library does not model are not messages.
		return &Event{Kind: EventIgnored, Reason: err.Error()}, nil
	}
	msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return &Event{Kind: EventIgnored, Reason: "inner event " + ev.InnerEvent.Type}, nil
	}
	switch {
	case msg.SubType != "" && msg.SubType != "file_share":
		return &Event{Kind: EventIgnored, Reason: "subtype " + msg.SubType}, nil
	case msg.BotID != "":
		return &Event{Kind: EventIgnored, Reason: "bot message"}, nil
	case msg.User == "" || msg.Channel == "" || msg.TimeStamp == "":
		return nil, domain.Validationf("message event missing user, channel or ts")
	}

	team := env.TeamID
	if team == "" {
		team = env.Event.Team
	}
	if team == "" {
		return nil, domain.Validationf("message event without team id")
	}

	in := &platform.InboundEvent{
		Platform:    domain.PlatformSlack,
		CommunityID: team,
		ChannelID:   msg.Channel,
		MessageID:   msg.TimeStamp,
		AuthorID:    msg.User,
		Text:        msg.Text,
	}
	for _, f := range env.Event.Files {
		in.Attachments = append(in.Attachments, platform.Attachment{
			ID:        f.ID,
			Name:      sysutil.FirstNonEmpty(f.Name, f.Title, f.ID),
			MimeType:  f.Mimetype,
			URL:       f.URLPrivate,
			Permalink: f.PermalinkPublic,
		})
	}
	return &Event{Kind: EventMessage, Message: in}, nil
}
