package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if c.Tenancy.SearchConcurrency < 1 {
		return fmt.Errorf("tenancy.search_concurrency must be >= 1 (got %d)", c.Tenancy.SearchConcurrency)
	}
	if c.Tenancy.BcryptCost < bcrypt.MinCost || c.Tenancy.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("tenancy.bcrypt_cost must be between %d and %d (got %d)", bcrypt.MinCost, bcrypt.MaxCost, c.Tenancy.BcryptCost)
	}
	if c.Tenancy.ResetTokenTTL <= 0 {
		return fmt.Errorf("tenancy.reset_token_ttl must be > 0")
	}
	if c.Backups.Retention < 0 {
		return fmt.Errorf("backups.retention must be >= 0")
	}
	if c.Events.OutboxBatch <= 0 {
		return fmt.Errorf("events.outbox_batch must be > 0 (got %d)", c.Events.OutboxBatch)
	}
	if c.Events.WebhookURL != "" {
		u, err := url.Parse(c.Events.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("events.webhook_url must be an absolute http(s) URL")
		}
		if c.Events.WebhookSecret == "" {
			return fmt.Errorf("events.webhook_secret is required with events.webhook_url")
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console (got %q)", c.Log.Format)
	}
	return nil
}
