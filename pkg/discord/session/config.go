package session

import "time"

// Config defines login and reconnect behavior.
type Config struct {
	LoginTimeout     time.Duration
	LoginRetryDelay  time.Duration
	MaxLoginAttempts int
	// AutoReconnect moves a dropped Ready session to Reconnecting while the
	// gateway client resumes it.
	AutoReconnect bool
	// EventBuffer sizes the in-process event pipe per subscriber.
	EventBuffer int64
}

func DefaultConfig() Config {
	return Config{
		LoginTimeout:     30 * time.Second,
		LoginRetryDelay:  5 * time.Second,
		MaxLoginAttempts: 3,
		AutoReconnect:    true,
		EventBuffer:      64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.LoginRetryDelay < 0 {
		c.LoginRetryDelay = 0
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = d.MaxLoginAttempts
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
