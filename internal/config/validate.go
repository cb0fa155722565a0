package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/distlock"
)

// Validate checks that the values required by the given command mode are
// present. Modes: serve, stage, migrate, lead.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateMeta()...)
		errs = append(errs, c.validatePolicy()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "stage":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateMeta()...)
		errs = append(errs, c.validatePolicy()...)
	case "migrate", "lead":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateMeta() []string {
	var errs []string
	if c.Meta.PixelID == "" {
		errs = append(errs, "meta.pixel_id is required")
	}
	if c.Meta.AccessToken == "" {
		errs = append(errs, "meta.access_token is required")
	}
	if c.Meta.RateLimit < 0 {
		errs = append(errs, "meta.rate_limit must be >= 0")
	}
	return errs
}

func (c *Config) validatePolicy() []string {
	var errs []string
	if c.Resolution.MaxAttempts < 1 || c.Resolution.MaxAttempts > 20 {
		errs = append(errs, "resolution.max_attempts must be between 1 and 20")
	}
	if c.Resolution.RetryDelay < 0 {
		errs = append(errs, "resolution.retry_delay must be >= 0")
	}
	if c.Gate.StaleAfter <= 0 {
		errs = append(errs, "gate.stale_after must be > 0")
	}
	if c.Normalize.SuffixLength < 0 {
		errs = append(errs, "normalize.suffix_length must be >= 0")
	}
	switch c.Stages.UnmappedPolicy {
	case "drop", "passthrough":
	default:
		errs = append(errs, fmt.Sprintf("stages.unmapped_policy must be drop or passthrough, got %q", c.Stages.UnmappedPolicy))
	}
	if c.Dispatch.ConversionValue < 0 {
		errs = append(errs, "dispatch.conversion_value must be >= 0")
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL < c.Meta.Timeout+distlock.ExpiryMargin {
		errs = append(errs, fmt.Sprintf("redis.lock_ttl (%s) must exceed meta.timeout (%s) by at least %s",
			c.Redis.LockTTL, c.Meta.Timeout, distlock.ExpiryMargin))
	}
	return errs
}

const maskedValue = "****"

// Masked returns a copy of the config safe to print.
func (c Config) Masked() Config {
	c.Meta.AccessToken = mask(c.Meta.AccessToken)
	c.Redis.Password = mask(c.Redis.Password)
	if c.Store.Driver == "postgres" {
		c.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	c.Stages.Table = append([]StageConfig(nil), c.Stages.Table...)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}
