// Package commands validates slash command definitions and publishes them as
// one atomic replacement of a scope's remote command set.
package commands

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/errclass"
	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
)

// Publisher is the REST subset needed to publish commands.
type Publisher interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Readiness gates publication on a live session.
type Readiness interface {
	IsReady() bool
}

type Option func(*Registrar)

func WithStore(s Store) Option {
	return func(r *Registrar) {
		if s != nil {
			r.store = s
		}
	}
}

func WithReadiness(rd Readiness) Option {
	return func(r *Registrar) { r.ready = rd }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registrar) {
		if now != nil {
			r.now = now
		}
	}
}

type Registrar struct {
	appID string
	pub   Publisher
	retry *retry.Engine
	store Store
	ready Readiness
	now   func() time.Time
}

func NewRegistrar(appID string, pub Publisher, engine *retry.Engine, opts ...Option) (*Registrar, error) {
	if appID == "" {
		return nil, errors.New("command registrar: empty application id")
	}
	if pub == nil {
		return nil, errors.New("command registrar: publisher is nil")
	}
	if engine == nil {
		return nil, errors.New("command registrar: retry engine is nil")
	}
	r := &Registrar{
		appID: appID,
		pub:   pub,
		retry: engine,
		store: NewMemoryStore(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register validates specs and replaces the scope's remote command set with
// them. An empty scopeID publishes globally. Any invalid command aborts the
// whole batch before a remote call is made.
func (r *Registrar) Register(ctx context.Context, specs []CommandSpec, scopeID string) ([]PublishedCommand, error) {
	if scopeID != "" {
		if err := payload.ValidateSnowflake("scopeId", scopeID); err != nil {
			return nil, err
		}
	}
	if err := ValidateAll(specs); err != nil {
		return nil, err
	}
	if r.ready != nil && !r.ready.IsReady() {
		return nil, errclass.Wrap("register commands", scopeLabel(scopeID), 0, errclass.ErrNotReady)
	}

	defs := ToApplicationCommands(specs)
	remote, err := retry.Run(ctx, r.retry, retry.Op{Name: "register commands", Target: scopeLabel(scopeID)},
		func(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
			return r.pub.ApplicationCommandBulkOverwrite(r.appID, scopeID, defs, discordgo.WithContext(ctx))
		})
	if err != nil {
		log.Error().Err(err).
			Str("component", "discord.commands").
			Str("scope", scopeLabel(scopeID)).
			Int("commands", len(specs)).
			Msg("command publication failed")
		return nil, err
	}

	now := r.now()
	published := make([]PublishedCommand, 0, len(remote))
	for _, c := range remote {
		if c == nil {
			continue
		}
		published = append(published, PublishedCommand{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Scope:       scopeID,
			Version:     c.Version,
			PublishedAt: now,
		})
	}
	sortByName(published)
	if err := r.store.Replace(ctx, scopeID, published); err != nil {
		log.Warn().Err(err).Str("component", "discord.commands").Str("scope", scopeLabel(scopeID)).Msg("recording published commands")
	}

	ev := log.Info().
		Str("component", "discord.commands").
		Str("scope", scopeLabel(scopeID)).
		Int("commands", len(published))
	if scopeID == "" {
		ev.Msg("published global commands; propagation may take up to an hour")
	} else {
		ev.Msg("published guild commands")
	}
	return published, nil
}

// List returns the last published command set for a scope.
func (r *Registrar) List(ctx context.Context, scopeID string) ([]PublishedCommand, error) {
	if scopeID != "" {
		if err := payload.ValidateSnowflake("scopeId", scopeID); err != nil {
			return nil, err
		}
	}
	return r.store.List(ctx, scopeID)
}

// PublishOnReady returns a session on-ready hook that publishes specs to
// scopeID. Failures are logged; the session stays up.
func (r *Registrar) PublishOnReady(scopeID string, specs []CommandSpec) func(ctx context.Context) {
	return func(ctx context.Context) {
		if len(specs) == 0 {
			return
		}
		if _, err := r.Register(ctx, specs, scopeID); err != nil {
			log.Warn().Err(err).
				Str("component", "discord.commands").
				Str("scope", scopeLabel(scopeID)).
				Msg("publishing commands on ready")
		}
	}
}

func scopeLabel(scopeID string) string {
	if scopeID == "" {
		return "global"
	}
	return scopeID
}
