package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/config"
	"github.com/go-go-golems/discordbridge/pkg/discord/commands"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
	"github.com/go-go-golems/discordbridge/pkg/discord/session"
)

// discordStack is the session plus the registrar bound to it.
type discordStack struct {
	manager   *session.Manager
	registrar *commands.Registrar
}

type stackOptions struct {
	store    commands.Store
	mirror   message.Publisher
	scope    string
	onReady  []commands.CommandSpec
	observer func(session.Transition)
}

// newDiscordStack builds the session manager and the registrar that publishes
// opts.onReady whenever the session becomes Ready. It does not connect.
func newDiscordStack(cfg config.Config, engine *retry.Engine, opts stackOptions) (*discordStack, error) {
	if err := cfg.CheckDiscord(); err != nil {
		return nil, err
	}
	st := &discordStack{}
	sessOpts := []session.Option{
		session.WithOnReady(func(ctx context.Context) {
			if st.registrar == nil {
				return
			}
			st.registrar.PublishOnReady(opts.scope, opts.onReady)(ctx)
		}),
	}
	if opts.mirror != nil {
		sessOpts = append(sessOpts, session.WithMirror(opts.mirror))
	}
	if opts.observer != nil {
		sessOpts = append(sessOpts, session.WithObserver(opts.observer))
	}
	m, err := session.NewDiscord(cfg.Discord.BotToken, cfg.Discord.SessionConfig(), sessOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	reg, err := commands.NewRegistrar(cfg.Discord.ApplicationID, m.REST(), engine,
		commands.WithStore(opts.store),
		commands.WithReadiness(m),
	)
	if err != nil {
		_ = m.Shutdown()
		return nil, err
	}
	st.manager = m
	st.registrar = reg
	return st, nil
}

// openCommandStore picks the SQLite store when path is set, memory otherwise.
func openCommandStore(path string) (commands.Store, error) {
	if path == "" {
		return commands.NewMemoryStore(), nil
	}
	dsn, err := commands.SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	s, err := commands.NewSQLiteStore(dsn)
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "discord.commands").Str("path", path).Msg("using sqlite command store")
	return s, nil
}

func loadCommandsFile(path string) ([]commands.CommandSpec, error) {
	if path == "" {
		return nil, nil
	}
	specs, err := commands.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load commands file %s", path)
	}
	return specs, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
