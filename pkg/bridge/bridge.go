// Package bridge is the entry point the HTTP layer calls: it chains rate
// limiting, payload building, readiness and retried delivery for outbound
// messages, and fronts the command registrar.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/commands"
	"github.com/go-go-golems/discordbridge/pkg/discord/errclass"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
	"github.com/go-go-golems/discordbridge/pkg/discord/session"
	"github.com/go-go-golems/discordbridge/pkg/ratelimit"
)

const opSend = "send message"

// Session is the Connection Manager surface the bridge needs.
type Session interface {
	IsReady() bool
	State() session.State
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
}

// Admitter is the rate limiter surface.
type Admitter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// Registry is the command registrar surface.
type Registry interface {
	Register(ctx context.Context, specs []commands.CommandSpec, scopeID string) ([]commands.PublishedCommand, error)
	List(ctx context.Context, scopeID string) ([]commands.PublishedCommand, error)
}

// SendRequest asks for one message to be delivered to a channel.
type SendRequest struct {
	TargetID string `json:"targetId"`
	payload.MessageSpec
}

type SendResult struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

type Status struct {
	Enabled        bool   `json:"enabled"`
	State          string `json:"state"`
	Ready          bool   `json:"ready"`
	Reason         string `json:"reason,omitempty"`
	PendingRetries int    `json:"pendingRetries"`
}

type Option func(*Bridge)

// WithSession enables delivery. Without it every send fails with NotReady.
func WithSession(s Session) Option {
	return func(b *Bridge) { b.session = s }
}

func WithRegistry(r Registry) Option {
	return func(b *Bridge) { b.registry = r }
}

func WithLimiter(a Admitter) Option {
	return func(b *Bridge) {
		if a != nil {
			b.limiter = a
		}
	}
}

func WithBuilder(pb payload.Builder) Option {
	return func(b *Bridge) { b.builder = pb }
}

// WithDisabledReason records why the Discord subsystem is off, for status
// reporting.
func WithDisabledReason(err error) Option {
	return func(b *Bridge) { b.disabled = err }
}

type Bridge struct {
	session  Session
	registry Registry
	limiter  Admitter
	retry    *retry.Engine
	builder  payload.Builder
	disabled error
}

func New(engine *retry.Engine, opts ...Option) (*Bridge, error) {
	if engine == nil {
		return nil, errors.New("bridge: retry engine is nil")
	}
	b := &Bridge{
		retry:   engine,
		limiter: ratelimit.New(ratelimit.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Send admits the caller, validates and builds the message, and delivers it
// through the retry engine. Validation failures and a session that is not
// Ready never reach the network.
func (b *Bridge) Send(ctx context.Context, identity string, req SendRequest) (SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	decision, err := b.limiter.Admit(ctx, identity)
	if err != nil {
		return SendResult{}, err
	}
	if !decision.Allowed {
		return SendResult{}, rateLimited(req.TargetID, decision.RetryAfter)
	}

	if err := payload.ValidateSnowflake("targetId", req.TargetID); err != nil {
		return SendResult{}, err
	}
	msg, err := b.builder.Build(req.MessageSpec)
	if err != nil {
		return SendResult{}, err
	}
	if b.session == nil || !b.session.IsReady() {
		return SendResult{}, errclass.Wrap(opSend, req.TargetID, 0, errclass.ErrNotReady)
	}

	sent, err := retry.Run(ctx, b.retry, retry.Op{Name: opSend, Target: req.TargetID},
		func(ctx context.Context) (*discordgo.Message, error) {
			return b.session.Send(ctx, req.TargetID, msg)
		})
	if err != nil {
		attempts := 0
		var ce *errclass.Error
		if errors.As(err, &ce) {
			attempts = ce.Attempts
		}
		log.Error().Err(err).
			Str("component", "bridge").
			Str("target", req.TargetID).
			Int("payload_bytes", payloadSize(msg)).
			Int("attempts", attempts).
			Str("kind", errclass.Classify(err).Kind.String()).
			Msg("message delivery failed")
		return SendResult{}, err
	}
	if sent == nil {
		return SendResult{ChannelID: req.TargetID}, nil
	}
	channelID := sent.ChannelID
	if channelID == "" {
		channelID = req.TargetID
	}
	return SendResult{MessageID: sent.ID, ChannelID: channelID}, nil
}

// RegisterCommands publishes specs to scopeID as one replacement.
func (b *Bridge) RegisterCommands(ctx context.Context, specs []commands.CommandSpec, scopeID string) ([]commands.PublishedCommand, error) {
	if b.registry == nil {
		if err := commands.ValidateAll(specs); err != nil {
			return nil, err
		}
		return nil, errclass.Wrap("register commands", scopeID, 0, errclass.ErrNotReady)
	}
	return b.registry.Register(ctx, specs, scopeID)
}

func (b *Bridge) ListCommands(ctx context.Context, scopeID string) ([]commands.PublishedCommand, error) {
	if b.registry == nil {
		return nil, errclass.Wrap("list commands", scopeID, 0, errclass.ErrNotReady)
	}
	return b.registry.List(ctx, scopeID)
}

func (b *Bridge) Status() Status {
	st := Status{State: session.Disconnected.String(), PendingRetries: b.retry.Pending()}
	if b.disabled != nil {
		st.Reason = b.disabled.Error()
	}
	if b.session == nil {
		return st
	}
	st.Enabled = true
	st.State = b.session.State().String()
	st.Ready = b.session.IsReady()
	return st
}

func rateLimited(target string, retryAfter time.Duration) error {
	return &errclass.Error{
		Classified: errclass.Classified{
			Kind:       errclass.KindRateLimited,
			Status:     http.StatusTooManyRequests,
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		},
		Op:     opSend,
		Target: target,
		Err:    ratelimit.ErrRejected,
	}
}

func payloadSize(msg *discordgo.MessageSend) int {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	return len(b)
}
