// Package ratelimit throttles unauthenticated endpoints per client IP and
// per email address.
package ratelimit

import "time"

// Config sets the window shared by every purpose and the cooldown between
// emails sent to one address.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	EmailCooldown time.Duration
}

// DefaultConfig allows 10 requests per 15 minutes per IP and purpose, and one
// email per address every 2 minutes.
func DefaultConfig() Config {
	return Config{
		MaxRequests:   10,
		Window:        15 * time.Minute,
		EmailCooldown: 2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRequests <= 0 {
		c.MaxRequests = def.MaxRequests
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.EmailCooldown <= 0 {
		c.EmailCooldown = def.EmailCooldown
	}
	return c
}
