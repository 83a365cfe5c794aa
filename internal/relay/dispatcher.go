// Package relay – Dispatcher
//
// The Dispatcher is the transport-agnostic entry point for inbound chat
// messages. For each event it decides whether the message is relayable
// (self-authorship, bot authors, loop prevention, mapping lookup), resolves
// mentions and attachments through the source platform's Client, translates
// the body, and fans the result out to every active mapping.
//
// Per-destination sends are isolated: each runs in its own goroutine with
// its own timeout, claims its ledger row before sending and releases it on
// failure, so one stuck or failing destination never affects its siblings.
//
// Observability: Dispatch is OpenTelemetry-instrumented and every outcome is
// counted in Prometheus (see metrics.go).
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/format"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
)

// Outcome is the terminal state of one inbound event.
type Outcome string

const (
	OutcomeSkipped         Outcome = "skipped"
	OutcomeRelayed         Outcome = "relayed"
	OutcomePartiallyFailed Outcome = "partially_failed"
)

// Skip reasons.
const (
	ReasonUnsupported      = "unsupported_platform"
	ReasonUnknownCommunity = "unknown_community"
	ReasonSelf             = "self"
	ReasonBot              = "bot"
	ReasonRelayProduct     = "relay_product"
	ReasonNoMappings       = "no_mappings"
	ReasonDuplicate        = "duplicate"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultParallel    = 4
	unknownAuthor      = "unknown"
	completeAttempts   = 3
	completeBackoff    = 50 * time.Millisecond
)

// Result summarizes one Dispatch call.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	// Relayed and Failed count destinations; Duplicates counts destinations
	// another delivery of the same message already owns.
	Relayed    int `json:"relayed"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// Registry is the read side of the mapping store.
type Registry interface {
	ActiveMappingsFor(ctx context.Context, p domain.Platform, channelID string) ([]domain.ChannelMapping, error)
	ConnectionByExternal(ctx context.Context, p domain.Platform, externalID string) (*domain.Connection, error)
	ConnectionByID(ctx context.Context, id string) (*domain.Connection, error)
}

// Ledger is the dedup and loop-prevention store.
type Ledger interface {
	IsRelayProduct(ctx context.Context, p domain.Platform, channelID, messageID string) (bool, error)
	Claim(ctx context.Context, k repo.LedgerKey) (bool, error)
	Complete(ctx context.Context, k repo.LedgerKey, targetChannelID, targetMessageID string) error
	Release(ctx context.Context, k repo.LedgerKey) error
}

// Options tunes fan-out.
type Options struct {
	// SendTimeout bounds each destination send.
	SendTimeout time.Duration
	// MaxParallelSends bounds concurrent destination sends per event.
	MaxParallelSends int
}

// Dispatcher relays inbound events to mapped destinations.
type Dispatcher struct {
	registry Registry
	ledger   Ledger
	adapters map[domain.Platform]platform.Adapter
	opts     Options
}

// NewDispatcher wires the dispatcher. Adapters are keyed by their Platform.
func NewDispatcher(reg Registry, ledger Ledger, opts Options, adapters ...platform.Adapter) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.MaxParallelSends <= 0 {
		opts.MaxParallelSends = defaultParallel
	}
	m := make(map[domain.Platform]platform.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Dispatcher{registry: reg, ledger: ledger, adapters: m, opts: opts}
}

// Dispatch processes one inbound event. The returned error is reserved for
// store failures that prevented a decision; per-destination failures are
// reported in Result.
func (d *Dispatcher) Dispatch(ctx context.Context, ev platform.InboundEvent) (Result, error) {
	tr := otel.Tracer("relay/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("platform", string(ev.Platform)),
			attribute.String("channel.id", ev.ChannelID),
			attribute.String("message.id", ev.MessageID),
		),
	)
	defer span.End()

	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = log.Logger.WithContext(ctx)
	}

	res, err := d.dispatch(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		relayEvents.WithLabelValues(string(ev.Platform), "error").Inc()
		return res, err
	}
	span.SetAttributes(
		attribute.String("relay.outcome", string(res.Outcome)),
		attribute.String("relay.reason", res.Reason),
		attribute.Int("relay.relayed", res.Relayed),
		attribute.Int("relay.failed", res.Failed),
	)
	relayEvents.WithLabelValues(string(ev.Platform), string(res.Outcome)).Inc()
	return res, nil
}

func skipped(reason string) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }

func (d *Dispatcher) dispatch(ctx context.Context, ev platform.InboundEvent) (Result, error) {
	src, ok := d.adapters[ev.Platform]
	if !ok {
		return skipped(ReasonUnsupported), nil
	}
	srcConn, err := d.registry.ConnectionByExternal(ctx, ev.Platform, ev.CommunityID)
	if err != nil {
		if repo.IsNotFound(err) {
			return skipped(ReasonUnknownCommunity), nil
		}
		return Result{}, err
	}

	if bot := src.BotUserID(srcConn); bot != "" && ev.AuthorID == bot {
		return skipped(ReasonSelf), nil
	}
	if ev.AuthorIsBot {
		return skipped(ReasonBot), nil
	}

	product, err := d.ledger.IsRelayProduct(ctx, ev.Platform, ev.ChannelID, ev.MessageID)
	if err != nil {
		return Result{}, err
	}
	if product {
		return skipped(ReasonRelayProduct), nil
	}

	routes, err := d.routes(ctx, ev, srcConn)
	if err != nil {
		return Result{}, err
	}
	if len(routes) == 0 {
		return skipped(ReasonNoMappings), nil
	}

	var srcClient platform.Client
	if c, err := src.Client(srcConn); err == nil {
		srcClient = c
	} else {
		log.Ctx(ctx).Warn().Err(err).Str("connection_id", srcConn.ID).Msg("source client unavailable, relaying without lookups")
	}

	msg := d.render(ctx, ev, srcClient)
	return d.fanOut(ctx, ev, routes, msg), nil
}

// routes resolves the active mappings for the event's channel that belong
// to the event's own connection.
func (d *Dispatcher) routes(ctx context.Context, ev platform.InboundEvent, srcConn *domain.Connection) ([]domain.Route, error) {
	mappings, err := d.registry.ActiveMappingsFor(ctx, ev.Platform, ev.ChannelID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Route, 0, len(mappings))
	for _, m := range mappings {
		if !m.Active || ownSide(m, ev.Platform, ev.ChannelID) != srcConn.ID {
			continue
		}
		if r, ok := m.RouteFrom(ev.Platform, ev.ChannelID); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func ownSide(m domain.ChannelMapping, p domain.Platform, channelID string) string {
	if m.SourcePlatform == p && m.SourceChannelID == channelID {
		return m.SourceConnectionID
	}
	return m.DestConnectionID
}

func (d *Dispatcher) fanOut(ctx context.Context, ev platform.InboundEvent, routes []domain.Route, msg platform.OutboundMessage) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.MaxParallelSends)
	for _, r := range routes {
		g.Go(func() error {
			st := d.send(gctx, ev, r, msg)
			mu.Lock()
			switch st {
			case sendOK:
				res.Relayed++
			case sendDuplicate:
				res.Duplicates++
			default:
				res.Failed++
			}
			mu.Unlock()
			// Never fail the group; siblings must keep running.
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case res.Failed > 0:
		res.Outcome = OutcomePartiallyFailed
	case res.Relayed > 0:
		res.Outcome = OutcomeRelayed
	default:
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonDuplicate
	}
	return res
}

type sendStatus int

const (
	sendOK sendStatus = iota
	sendDuplicate
	sendFailed
)

// send relays msg along one route: claim, send, complete.
func (d *Dispatcher) send(ctx context.Context, ev platform.InboundEvent, r domain.Route, msg platform.OutboundMessage) sendStatus {
	lg := log.Ctx(ctx).With().
		Str("mapping_id", r.MappingID).
		Str("source_platform", string(ev.Platform)).
		Str("source_message_id", ev.MessageID).
		Str("dest_platform", string(r.Platform)).
		Str("dest_channel_id", r.ChannelID).
		Logger()

	fail := func(err error, what string) sendStatus {
		relaySends.WithLabelValues(string(r.Platform), "failed").Inc()
		lg.Error().Err(err).Msg(what)
		return sendFailed
	}

	dst, ok := d.adapters[r.Platform]
	if !ok {
		return fail(errors.New("no adapter"), "relay destination unsupported")
	}
	conn, err := d.registry.ConnectionByID(ctx, r.ConnectionID)
	if err != nil {
		return fail(err, "relay destination connection lookup failed")
	}
	client, err := dst.Client(conn)
	if err != nil {
		return fail(err, "relay destination client unavailable")
	}

	key := repo.LedgerKey{SourcePlatform: ev.Platform, SourceMessageID: ev.MessageID, MappingID: r.MappingID}
	claimed, err := d.ledger.Claim(ctx, key)
	if err != nil {
		return fail(err, "ledger claim failed")
	}
	if !claimed {
		relaySends.WithLabelValues(string(r.Platform), "duplicate").Inc()
		lg.Debug().Msg("relay already claimed")
		return sendDuplicate
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	start := time.Now()
	remoteID, err := client.SendMessage(sendCtx, r.ChannelID, msg)
	cancel()
	relaySendLat.WithLabelValues(string(r.Platform)).Observe(time.Since(start).Seconds())
	if err != nil {
		if rerr := d.ledger.Release(context.WithoutCancel(ctx), key); rerr != nil {
			lg.Warn().Err(rerr).Msg("ledger release failed")
		}
		return fail(err, "relay send failed")
	}

	if err := d.complete(context.WithoutCancel(ctx), key, r.ChannelID, remoteID); err != nil {
		// The message went out; the pending row still blocks duplicates
		// until the claim timeout.
		lg.Error().Err(err).Str("target_message_id", remoteID).Msg("ledger complete failed")
	}
	relaySends.WithLabelValues(string(r.Platform), "ok").Inc()
	lg.Info().Str("target_message_id", remoteID).Msg("relayed")
	return sendOK
}

// complete records a successful send, retrying transient store errors. A
// row left pending after a send can be taken over once the claim times out,
// which would post the message twice.
func (d *Dispatcher) complete(ctx context.Context, key repo.LedgerKey, channelID, remoteID string) error {
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		err = d.ledger.Complete(ctx, key, channelID, remoteID)
		if err == nil || errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if attempt < completeAttempts {
			time.Sleep(time.Duration(attempt) * completeBackoff)
		}
	}
	return err
}

// direction picks the translation direction for a source platform.
func direction(p domain.Platform) format.Direction {
	if p == domain.PlatformDiscord {
		return format.DiscordToSlack
	}
	return format.SlackToDiscord
}
