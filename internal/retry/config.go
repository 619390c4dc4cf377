// Package retry classifies failed analysis attempts and decides whether and
// when they are retried.
package retry

import "time"

// Config defines retry behavior for one submission.
type Config struct {
	MaxAttempts     int           // attempts per submission, including the first
	BaseDelay       time.Duration // backoff unit; attempt n waits BaseDelay*n
	DefaultCooldown int           // seconds, used when a 429 carries no usable Retry-After
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       3 * time.Second,
		DefaultCooldown: 30,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = def.DefaultCooldown
	}
	return c
}
