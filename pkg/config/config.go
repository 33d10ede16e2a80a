// Package config loads discordbridge settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/go-go-golems/discordbridge/pkg/discord/payload"
	"github.com/go-go-golems/discordbridge/pkg/discord/retry"
	"github.com/go-go-golems/discordbridge/pkg/discord/session"
	"github.com/go-go-golems/discordbridge/pkg/ratelimit"
)

// ErrDiscordDisabled means the bot credentials are missing. The host keeps
// running without the Discord subsystem.
var ErrDiscordDisabled = errors.New("discord subsystem disabled")

type Discord struct {
	BotToken       string `env:"DISCORD_BOT_TOKEN"`
	ApplicationID  string `env:"DISCORD_APPLICATION_ID"`
	DefaultGuildID string `env:"DISCORD_DEFAULT_GUILD_ID"`

	LoginTimeout     time.Duration `env:"DISCORD_LOGIN_TIMEOUT" envDefault:"30s"`
	LoginRetryDelay  time.Duration `env:"DISCORD_LOGIN_RETRY_DELAY" envDefault:"5s"`
	MaxLoginAttempts int           `env:"DISCORD_MAX_LOGIN_ATTEMPTS" envDefault:"3"`

	RetryBaseDelay   time.Duration `env:"DISCORD_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMultiplier  float64       `env:"DISCORD_RETRY_MULTIPLIER" envDefault:"2"`
	RetryMaxDelay    time.Duration `env:"DISCORD_RETRY_MAX_DELAY" envDefault:"30s"`
	RetryMaxAttempts int           `env:"DISCORD_RETRY_MAX_ATTEMPTS" envDefault:"3"`
}

type Server struct {
	Addr string `env:"DISCORDBRIDGE_ADDR" envDefault:":8080"`
	// APIKeys holds name=key pairs. The name is the caller identity used for
	// rate limiting. An empty list disables authentication.
	APIKeys      []string `env:"DISCORDBRIDGE_API_KEYS" envSeparator:","`
	CommandsFile string   `env:"DISCORDBRIDGE_COMMANDS_FILE"`
	// StorePath selects the SQLite command store; empty keeps it in memory.
	StorePath string `env:"DISCORDBRIDGE_STORE_PATH"`
}

type Redis struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Group    string `env:"REDIS_GROUP" envDefault:"discordbridge"`
	Consumer string `env:"REDIS_CONSUMER" envDefault:"bridge-1"`
	MaxLen   int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
	// SharedRateLimit keeps rate-limit windows in Redis instead of memory.
	SharedRateLimit bool `env:"REDIS_SHARED_RATE_LIMIT" envDefault:"false"`
}

type Config struct {
	Discord   Discord
	Server    Server
	Redis     Redis
	RateLimit ratelimit.Config
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg, nil
}

// CheckDiscord reports ErrDiscordDisabled when credentials are missing and a
// validation error when the configured identifiers are malformed.
func (c Config) CheckDiscord() error {
	var missing []string
	if strings.TrimSpace(c.Discord.BotToken) == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}
	if strings.TrimSpace(c.Discord.ApplicationID) == "" {
		missing = append(missing, "DISCORD_APPLICATION_ID")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrDiscordDisabled, "missing %s", strings.Join(missing, ", "))
	}
	if err := payload.ValidateSnowflake("DISCORD_APPLICATION_ID", c.Discord.ApplicationID); err != nil {
		return err
	}
	if c.Discord.DefaultGuildID != "" {
		if err := payload.ValidateSnowflake("DISCORD_DEFAULT_GUILD_ID", c.Discord.DefaultGuildID); err != nil {
			return err
		}
	}
	return nil
}

func (d Discord) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.LoginTimeout = d.LoginTimeout
	cfg.LoginRetryDelay = d.LoginRetryDelay
	cfg.MaxLoginAttempts = d.MaxLoginAttempts
	return cfg
}

func (d Discord) RetryConfig() retry.Config {
	return retry.Config{
		BaseDelay:   d.RetryBaseDelay,
		Multiplier:  d.RetryMultiplier,
		MaxDelay:    d.RetryMaxDelay,
		MaxAttempts: d.RetryMaxAttempts,
	}
}

// Keys parses APIKeys into a key to identity map.
func (s Server) Keys() (map[string]string, error) {
	out := map[string]string{}
	for _, raw := range s.APIKeys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, key, ok := strings.Cut(raw, "=")
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, errors.Errorf("api key entry %q: expected name=key", raw)
		}
		if _, dup := out[key]; dup {
			return nil, errors.Errorf("api key for %q is configured twice", name)
		}
		out[key] = name
	}
	return out, nil
}
