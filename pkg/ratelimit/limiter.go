// Package ratelimit admits requests per caller identity over a sliding window.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrRejected marks a request refused by the limiter.
var ErrRejected = errors.New("rate limit exceeded")

// Config bounds each identity to Limit admissions per Window.
type Config struct {
	Limit         int           `env:"RATE_LIMIT" envDefault:"30"`
	Window        time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
	SweepInterval time.Duration `env:"RATE_SWEEP_INTERVAL" envDefault:"1m"`
}

func DefaultConfig() Config {
	return Config{Limit: 30, Window: time.Minute, SweepInterval: time.Minute}
}

// Decision is the outcome of one admission check. RetryAfter is set only
// when the request was rejected.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Store holds the per-identity windows. Admit prunes entries at or before
// now-window, then records now if fewer than limit entries remain.
type Store interface {
	Admit(ctx context.Context, identity string, now time.Time, window time.Duration, limit int) (allowed bool, count int, err error)
	// Sweep drops identities whose whole window has expired.
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

type Option func(*Limiter)

func WithStore(s Store) Option {
	return func(l *Limiter) {
		if s != nil {
			l.store = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

func New(cfg Config, opts ...Option) *Limiter {
	d := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = d.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = d.SweepInterval
	}
	l := &Limiter{cfg: cfg, store: NewMemoryStore(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Config() Config { return l.cfg }

// Admit checks and records one request for identity. A rejection carries
// RetryAfter equal to the window width.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Decision{}, errors.New("rate limiter: empty identity")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	allowed, count, err := l.store.Admit(ctx, identity, l.now(), l.cfg.Window, l.cfg.Limit)
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limiter: admit")
	}
	if !allowed {
		log.Debug().
			Str("component", "ratelimit").
			Str("identity", identity).
			Int("count", count).
			Int("limit", l.cfg.Limit).
			Msg("request rejected")
		return Decision{Allowed: false, RetryAfter: l.cfg.Window}, nil
	}
	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Run sweeps idle identities every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.sweepOnce(ctx)
		}
	}
}

func (l *Limiter) sweepOnce(ctx context.Context) int {
	n, err := l.store.Sweep(ctx, l.now(), l.cfg.Window)
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Msg("sweep failed")
		return 0
	}
	if n > 0 {
		log.Debug().Str("component", "ratelimit").Int("evicted", n).Msg("swept idle windows")
	}
	return n
}
