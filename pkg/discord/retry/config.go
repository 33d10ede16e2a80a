package retry

import (
	"math"
	"time"
)

// Config defines the backoff schedule.
type Config struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.BaseDelay == 0 && c.Multiplier == 0 && c.MaxDelay == 0 && c.MaxAttempts == 0 {
		return d
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = 1.0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// NextDelay returns the wait after the given number of failed attempts
// (1-based): BaseDelay * Multiplier^(attempts-1), capped at MaxDelay.
func NextDelay(cfg Config, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(mult, float64(attempts-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
