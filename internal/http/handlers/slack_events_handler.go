// Slack Events API webhook.
//
// POST /slack/events is the push transport for Slack. The handler reads the
// raw body (signature verification needs the exact bytes), verifies it,
// answers the url_verification handshake, and hands channel messages to the
// relay queue. It never waits for relay: Slack retries deliveries that are
// not acknowledged within three seconds.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/chat-bridge/internal/http/middleware"
	"github.com/tbourn/chat-bridge/internal/platform"
	slackp "github.com/tbourn/chat-bridge/internal/platform/slack"
)

// Verifier checks an inbound delivery; platform.Adapter satisfies it.
type Verifier interface {
	VerifyInbound(raw platform.RawInbound) error
}

// EventSink accepts normalized events for asynchronous relay. Submit returns
// false when the event was not queued.
type EventSink interface {
	Submit(ev platform.InboundEvent) bool
}

// SlackEvents serves the Slack Events API endpoint.
type SlackEvents struct {
	verifier Verifier
	sink     EventSink
}

// NewSlackEvents constructs the webhook handler.
func NewSlackEvents(v Verifier, sink EventSink) *SlackEvents {
	return &SlackEvents{verifier: v, sink: sink}
}

// ChallengeResponse echoes the url_verification challenge.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// Handle serves POST /slack/events. It is mounted outside the versioned API
// and left out of the OpenAPI document: Slack is its only client.
//
// Responses: 200 with the challenge for url_verification, 200 with an empty
// body for queued or ignored events, 401 for signature or timestamp
// failures, 400 for malformed payloads and 413 when the body exceeds the
// cap. A delivery that finds the relay queue full is still acknowledged; the
// sink counts the drop.
func (h *SlackEvents) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.VerifyInbound(platform.RawInbound{Header: c.Request.Header, Body: body}); err != nil {
		failErr(c, err)
		return
	}

	ev, err := slackp.ParseEvent(body)
	if err != nil {
		failErr(c, err)
		return
	}

	lg := middleware.LoggerFrom(c)
	switch ev.Kind {
	case slackp.EventChallenge:
		ok(c, http.StatusOK, ChallengeResponse{Challenge: ev.Challenge})
		return
	case slackp.EventMessage:
		if !h.sink.Submit(*ev.Message) {
			lg.Warn().
				Str("channel", ev.Message.ChannelID).
				Str("message_id", ev.Message.MessageID).
				Str("retry_num", c.GetHeader("X-Slack-Retry-Num")).
				Msg("relay queue full, event dropped")
			break
		}
		lg.Debug().
			Str("channel", ev.Message.ChannelID).
			Str("message_id", ev.Message.MessageID).
			Msg("slack event queued")
	default:
		lg.Debug().Str("reason", ev.Reason).Msg("slack event ignored")
	}
	c.Status(http.StatusOK)
}
