// Package interactions dispatches inbound interaction events to handlers.
//
// Dispatch is serial: Run consumes the session's event topic on one goroutine
// and handles one event at a time in arrival order. Every event is
// acknowledged exactly once, by its handler or by the router.
package interactions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/events"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
)

const (
	unmatchedNotice = "This command is not available right now."
	failureNotice   = "Something went wrong while handling this interaction."
)

// Handler handles one event. It should acknowledge through reply; if it
// returns nil without doing so the router sends the default acknowledgement.
type Handler func(ctx context.Context, ev events.Event, reply *Reply) error

type route struct {
	kind events.Kind
	key  string
}

type prefixRoute struct {
	kind    events.Kind
	prefix  string
	handler Handler
}

type Option func(*Router)

// WithBuilder sets the payload builder used for replies.
func WithBuilder(b payload.Builder) Option {
	return func(r *Router) { r.builder = b }
}

type Router struct {
	responder Responder
	builder   payload.Builder

	mu       sync.RWMutex
	exact    map[route]Handler
	prefixes []prefixRoute
}

func NewRouter(responder Responder, opts ...Option) (*Router, error) {
	if responder == nil {
		return nil, errors.New("interaction router: responder is nil")
	}
	r := &Router{
		responder: responder,
		exact:     map[route]Handler{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HandleCommand routes slash command invocations named name.
func (r *Router) HandleCommand(name string, h Handler) {
	r.handle(events.KindCommand, name, h)
}

// HandleAutocomplete routes autocomplete requests for command name.
func (r *Router) HandleAutocomplete(name string, h Handler) {
	r.handle(events.KindAutocomplete, name, h)
}

// HandleComponent routes component activations with exactly customID.
func (r *Router) HandleComponent(customID string, h Handler) {
	r.handle(events.KindComponent, customID, h)
}

// HandleModal routes modal submissions with exactly customID.
func (r *Router) HandleModal(customID string, h Handler) {
	r.handle(events.KindModal, customID, h)
}

// HandleComponentPrefix routes component activations whose custom id starts
// with prefix, e.g. "counter:" for ids like "counter:3". Exact routes win; among
// prefixes the longest match wins.
func (r *Router) HandleComponentPrefix(prefix string, h Handler) {
	if prefix == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.prefixes {
		if p.kind == events.KindComponent && p.prefix == prefix {
			r.prefixes[i].handler = h
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixRoute{kind: events.KindComponent, prefix: prefix, handler: h})
	sort.SliceStable(r.prefixes, func(i, j int) bool { return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix) })
}

func (r *Router) handle(kind events.Kind, key string, h Handler) {
	if key == "" || h == nil {
		return
	}
	r.mu.Lock()
	r.exact[route{kind: kind, key: key}] = h
	r.mu.Unlock()
}

func (r *Router) lookup(ev events.Event) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.exact[route{kind: ev.Kind, key: ev.Key}]; ok {
		return h, true
	}
	for _, p := range r.prefixes {
		if p.kind == ev.Kind && strings.HasPrefix(ev.Key, p.prefix) {
			return p.handler, true
		}
	}
	return nil, false
}

// Run consumes events from sub until ctx is done or the topic closes. Each
// message is acked after its dispatch completes.
func (r *Router) Run(ctx context.Context, sub message.Subscriber) error {
	if sub == nil {
		return errors.New("interaction router: subscriber is nil")
	}
	ch, err := sub.Subscribe(ctx, events.Topic)
	if err != nil {
		return errors.Wrap(err, "subscribe to interaction events")
	}
	log.Info().Str("component", "discord.interactions").Msg("router started")
	for msg := range ch {
		ev, err := events.Decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("component", "discord.interactions").Msg("dropping undecodable event")
			msg.Ack()
			continue
		}
		_ = r.Dispatch(ctx, ev)
		msg.Ack()
	}
	log.Info().Str("component", "discord.interactions").Msg("router stopped")
	return nil
}

// Dispatch runs the matching handler for ev, or sends the default
// acknowledgement. Handler errors and panics are logged and answered with a
// generic failure notice. The returned error only reports a failed
// acknowledgement and is already logged.
func (r *Router) Dispatch(ctx context.Context, ev events.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reply := &Reply{ctx: ctx, responder: r.responder, ev: ev, builder: r.builder}
	logger := log.With().
		Str("component", "discord.interactions").
		Str("kind", string(ev.Kind)).
		Str("key", ev.Key).
		Str("interaction_id", ev.ID).
		Logger()

	h, ok := r.lookup(ev)
	if !ok {
		logger.Debug().Msg("no handler, sending default acknowledgement")
		return r.ack(reply, defaultAck(ev.Kind), "default")
	}

	if err := invoke(ctx, h, ev, reply); err != nil {
		logger.Error().Err(err).Msg("interaction handler failed")
		if reply.Responded() {
			return nil
		}
		return r.ack(reply, failureAck(ev.Kind), "failure")
	}
	if !reply.Responded() {
		return r.ack(reply, defaultAck(ev.Kind), "default")
	}
	return nil
}

func (r *Router) ack(reply *Reply, resp *discordgo.InteractionResponse, which string) error {
	if resp == nil {
		return nil
	}
	if err := reply.Respond(resp); err != nil {
		log.Warn().Err(err).
			Str("component", "discord.interactions").
			Str("ack", which).
			Str("interaction_id", reply.ev.ID).
			Msg("acknowledgement failed")
		return errors.Wrapf(err, "send %s acknowledgement", which)
	}
	return nil
}

func invoke(ctx context.Context, h Handler, ev events.Event, reply *Reply) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, ev, reply)
}

func defaultAck(kind events.Kind) *discordgo.InteractionResponse {
	switch kind {
	case events.KindCommand, events.KindModal:
		return ephemeral(unmatchedNotice)
	case events.KindComponent:
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	case events.KindAutocomplete:
		return emptyAutocomplete()
	default:
		return deferredAck()
	}
}

func failureAck(kind events.Kind) *discordgo.InteractionResponse {
	switch kind {
	case events.KindAutocomplete:
		return emptyAutocomplete()
	case events.KindUnknown:
		return deferredAck()
	default:
		return ephemeral(failureNotice)
	}
}

// deferredAck answers interaction types the router does not model. Every
// non-autocomplete interaction accepts it.
func deferredAck() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
}

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func emptyAutocomplete() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: []*discordgo.ApplicationCommandOptionChoice{}},
	}
}

// String describes the registered routes, for startup logging.
func (r *Router) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.exact)+len(r.prefixes))
	for k := range r.exact {
		keys = append(keys, fmt.Sprintf("%s:%s", k.kind, k.key))
	}
	for _, p := range r.prefixes {
		keys = append(keys, fmt.Sprintf("%s:%s*", p.kind, p.prefix))
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
