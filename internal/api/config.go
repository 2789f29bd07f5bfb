// Package api provides the HTTP control surface: health, session control,
// category browsing and metrics.
package api

import (
	"time"

	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStatsCacheTTL   = 5 * time.Second
	DefaultBodyLimit       = "1M"

	rateLimitBurst  = 20
	rateLimitWindow = 3 * time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit     string        // maximum request body, e.g. "1M"
	StatsCacheTTL time.Duration // category stats cache lifetime
	RateLimit     float64       // requests per second per client, 0 disables
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		StatsCacheTTL:   DefaultStatsCacheTTL,
	}
}

// ConfigFromSettings creates a Config from application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.StatsCacheTTL > 0 {
		cfg.StatsCacheTTL = settings.WebServer.StatsCacheTTL
	}
	cfg.RateLimit = settings.WebServer.RateLimit
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.Newf("listen address is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	case c.RateLimit < 0:
		return errors.Newf("rate limit must not be negative, got %v", c.RateLimit).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	case c.StatsCacheTTL < 0:
		return errors.Newf("stats cache ttl must not be negative, got %v", c.StatsCacheTTL).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
