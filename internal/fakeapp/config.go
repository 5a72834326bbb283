package fakeapp

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/takameyer/realm.go/pkg/constants"
	"github.com/takameyer/realm.go/pkg/logger"
)

// Config holds all configuration options of a fake backend
type Config struct {
	// Address to listen on. Use "127.0.0.1:0" for a random free port.
	Addr string
	// AppID the backend answers to
	AppID string
	// Database holding the collections of synced classes
	SyncDatabase string
	// Lifetime of access tokens. Refresh tokens never expire.
	AccessTokenTTL time.Duration

	// Email/password users known at start, keyed by email
	Users map[string]string
	// Server API keys accepted by the api-key provider
	APIKeys []string

	Logger logger.Logger
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Addr:           "127.0.0.1:0",
		AppID:          "application-0",
		SyncDatabase:   "todo",
		AccessTokenTTL: constants.DefaultAccessTokenTTL,
		Users:          map[string]string{},
		Logger:         logger.Discard,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.AppID == "" {
		return fmt.Errorf("app id is required")
	}
	if c.SyncDatabase == "" {
		return fmt.Errorf("sync database is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token ttl must be positive, got %s", c.AccessTokenTTL)
	}
	for email, password := range c.Users {
		if _, err := mail.ParseAddress(email); err != nil {
			return fmt.Errorf("user %q: %w", email, err)
		}
		if len(password) < minPasswordLength {
			return fmt.Errorf("user %q: password must be at least %d characters", email, minPasswordLength)
		}
	}
	for _, key := range c.APIKeys {
		if key == "" {
			return fmt.Errorf("api keys must not be empty")
		}
	}
	return nil
}
