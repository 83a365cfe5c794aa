package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/chat-bridge/internal/format"
	"github.com/tbourn/chat-bridge/internal/platform"
)

// render builds the destination-neutral outbound message: attribution,
// translated body and resolved attachments. src may be nil, in which case
// only what the transport already supplied is used.
func (d *Dispatcher) render(ctx context.Context, ev platform.InboundEvent, src platform.Client) platform.OutboundMessage {
	dir := direction(ev.Platform)
	msg := platform.OutboundMessage{
		AuthorName:      ev.AuthorName,
		AuthorAvatarURL: ev.AuthorAvatarURL,
		SourcePlatform:  ev.Platform,
	}

	if msg.AuthorName == "" && src != nil && ev.AuthorID != "" {
		if p, err := src.ResolveUserDisplayName(ctx, ev.AuthorID); err == nil {
			msg.AuthorName = p.Name
			if msg.AuthorAvatarURL == "" {
				msg.AuthorAvatarURL = p.AvatarURL
			}
		} else {
			log.Ctx(ctx).Debug().Err(err).Str("user_id", ev.AuthorID).Msg("author lookup failed")
		}
	}
	if msg.AuthorName == "" {
		msg.AuthorName = unknownAuthor
	}

	names := resolveMentions(ctx, dir.Source(), ev, src)
	msg.Text = format.Translate(dir, ev.Text, names)
	msg.Attachments = resolveAttachments(ctx, ev.Attachments, src)
	return msg
}

// resolveMentions builds the mention table for ev. Names the transport
// already knows win; the rest are looked up one by one. Failed lookups are
// left out so the translator falls back to its placeholder.
func resolveMentions(ctx context.Context, dialect format.Dialect, ev platform.InboundEvent, src platform.Client) format.Names {
	users, channels := format.Mentions(dialect, ev.Text)
	names := format.Names{
		Users:    make(map[string]string, len(users)),
		Channels: make(map[string]string, len(channels)),
	}
	for _, id := range users {
		if n, ok := ev.MentionNames[id]; ok && n != "" {
			names.Users[id] = n
			continue
		}
		if src == nil {
			continue
		}
		if p, err := src.ResolveUserDisplayName(ctx, id); err == nil {
			names.Users[id] = p.Name
		}
	}
	if src == nil {
		return names
	}
	for _, id := range channels {
		if n, err := src.ChannelName(ctx, id); err == nil && n != "" {
			names.Channels[id] = n
		}
	}
	return names
}

// resolveAttachments asks the source platform for a publicly fetchable URL
// for every file. When that fails the original URL is kept, even if it is
// private or short-lived.
func resolveAttachments(ctx context.Context, atts []platform.Attachment, src platform.Client) []platform.RenderedAttachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]platform.RenderedAttachment, 0, len(atts))
	for _, a := range atts {
		kind := a.Classify()
		url := a.URL
		if kind != platform.AttachmentLink && src != nil {
			if pub, err := src.PublicFileURL(ctx, a); err == nil && pub != "" {
				url = pub
			} else if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("file_id", a.ID).Msg("public file url unavailable, using original")
			}
		}
		if url == "" {
			continue
		}
		name := a.Name
		if name == "" {
			name = a.Title
		}
		out = append(out, platform.RenderedAttachment{
			Kind:        kind,
			Name:        name,
			URL:         url,
			Title:       a.Title,
			Description: a.Description,
		})
	}
	return out
}
