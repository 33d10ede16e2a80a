package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/discordbridge/pkg/bridge"
	"github.com/go-go-golems/discordbridge/pkg/config"
	"github.com/go-go-golems/discordbridge/pkg/discord/interactions"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
	"github.com/go-go-golems/discordbridge/pkg/discord/session"
	"github.com/go-go-golems/discordbridge/pkg/ratelimit"
	"github.com/go-go-golems/discordbridge/pkg/redisstream"
	"github.com/go-go-golems/discordbridge/pkg/server"
)

const rateLimitPrefix = "discordbridge:ratelimit:"

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: Discord session, interaction router and HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (DISCORDBRIDGE_ADDR)")
	f.String("commands-file", "", "YAML command definitions published on ready (DISCORDBRIDGE_COMMANDS_FILE)")
	f.String("store-path", "", "SQLite file for published commands (DISCORDBRIDGE_STORE_PATH)")
	f.Bool("redis-enabled", false, "mirror interaction events to Redis Streams (REDIS_ENABLED)")
	f.String("redis-addr", "", "Redis address (REDIS_ADDR)")
	f.Bool("redis-shared-rate-limit", false, "keep rate-limit windows in Redis (REDIS_SHARED_RATE_LIMIT)")
	f.Int("rate-limit", 0, "requests admitted per identity per window (RATE_LIMIT)")
	f.Duration("rate-window", 0, "rate-limit window (RATE_WINDOW)")
	return cmd
}

// applyServeFlags overrides cfg with the flags that were set explicitly.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Server.Addr, _ = f.GetString("addr")
	}
	if f.Changed("commands-file") {
		cfg.Server.CommandsFile, _ = f.GetString("commands-file")
	}
	if f.Changed("store-path") {
		cfg.Server.StorePath, _ = f.GetString("store-path")
	}
	if f.Changed("redis-enabled") {
		cfg.Redis.Enabled, _ = f.GetBool("redis-enabled")
	}
	if f.Changed("redis-addr") {
		cfg.Redis.Addr, _ = f.GetString("redis-addr")
	}
	if f.Changed("redis-shared-rate-limit") {
		cfg.Redis.SharedRateLimit, _ = f.GetBool("redis-shared-rate-limit")
	}
	if f.Changed("rate-limit") {
		cfg.RateLimit.Limit, _ = f.GetInt("rate-limit")
	}
	if f.Changed("rate-window") {
		cfg.RateLimit.Window, _ = f.GetDuration("rate-window")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)
	keys, err := cfg.Server.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		log.Warn().Str("component", "server").Msg("no api keys configured, authentication disabled")
	}
	specs, err := loadCommandsFile(cfg.Server.CommandsFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	engine := retry.New(cfg.Discord.RetryConfig())
	defer engine.Close()

	store, err := openCommandStore(cfg.Server.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var (
		redisClient *redis.Client
		mirror      message.Publisher
	)
	if cfg.Redis.Enabled {
		redisClient = redisstream.NewClient(cfg.Redis.Addr)
		defer func() { _ = redisClient.Close() }()
		if err := redisstream.Ping(ctx, redisClient); err != nil {
			return err
		}
		mirror, err = redisstream.NewPublisher(redisClient, redisSettings(cfg.Redis))
		if err != nil {
			return err
		}
	}

	var limiterOpts []ratelimit.Option
	if cfg.Redis.SharedRateLimit {
		if redisClient == nil {
			return errors.New("shared rate limiting requires redis to be enabled")
		}
		limiterOpts = append(limiterOpts, ratelimit.WithStore(ratelimit.NewRedisStore(redisClient, rateLimitPrefix)))
	}
	limiter := ratelimit.New(cfg.RateLimit, limiterOpts...)

	bridgeOpts := []bridge.Option{bridge.WithLimiter(limiter)}
	stack, err := newDiscordStack(cfg, engine, stackOptions{
		store:   store,
		mirror:  mirror,
		scope:   cfg.Discord.DefaultGuildID,
		onReady: specs,
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "discord.session").Msg("discord subsystem disabled, serving without it")
		bridgeOpts = append(bridgeOpts, bridge.WithDisabledReason(err))
		if mirror != nil {
			defer func() { _ = mirror.Close() }()
		}
	} else {
		bridgeOpts = append(bridgeOpts, bridge.WithSession(stack.manager), bridge.WithRegistry(stack.registrar))
	}

	b, err := bridge.New(engine, bridgeOpts...)
	if err != nil {
		return err
	}
	tap := server.NewEventTap()
	srv, err := server.New(cfg.Server.Addr, b, server.WithAPIKeys(keys), server.WithEventTap(tap))
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Run(egCtx) })
	eg.Go(func() error { return limiter.Run(egCtx) })
	if stack != nil {
		m := stack.manager
		router, err := interactions.NewRouter(m.REST())
		if err != nil {
			return err
		}
		interactions.RegisterBuiltins(router, func() string { return m.State().String() })
		log.Debug().Str("component", "discord.interactions").Str("routes", router.String()).Msg("interaction routes")

		eg.Go(func() error { return router.Run(egCtx, m.Events()) })
		eg.Go(func() error { return tap.Run(egCtx, m.Feed()) })
		eg.Go(func() error { return startSession(egCtx, m) })
		eg.Go(func() error {
			<-egCtx.Done()
			return m.Shutdown()
		})
	}
	return eg.Wait()
}

// startSession connects the manager. A session that cannot log in leaves the
// subsystem disconnected without stopping the host.
func startSession(ctx context.Context, m *session.Manager) error {
	err := m.Start(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrConnectionFailed):
		log.Error().Err(err).Str("component", "discord.session").Msg("discord login failed, continuing without it")
		return nil
	case errors.Is(err, session.ErrShutdown), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func redisSettings(r config.Redis) redisstream.Settings {
	return redisstream.Settings{
		Addr:     r.Addr,
		Group:    r.Group,
		Consumer: r.Consumer,
		MaxLen:   r.MaxLen,
	}
}
