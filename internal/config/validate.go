package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"
)

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPAddr == "" {
		errs = append(errs, fmt.Errorf("server.http_addr is required"))
	}
	if c.Server.RateLimit.PerSecond <= 0 || c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit values must be > 0"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be > 0, got %d", c.Server.MaxBodyBytes))
	}

	for _, p := range c.Server.TrustedProxies {
		if err := validProxy(p); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
		}
	}

	if c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn or database.dsn_file is required"))
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be within [%d,%d], got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost))
	}
	if c.Auth.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("auth.store_timeout must be > 0, got %s", c.Auth.StoreTimeout))
	}
	if c.Auth.PasswordMaxAge < 0 {
		errs = append(errs, fmt.Errorf("auth.password_max_age must not be negative"))
	}

	if c.Lockout.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("lockout.threshold must be > 0, got %d", c.Lockout.Threshold))
	}
	switch c.Lockout.Backend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr is required when lockout.backend is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("lockout.backend must be \"store\" or \"redis\", got %q", c.Lockout.Backend))
	}

	if _, err := language.Parse(c.Messages.DefaultLocale); err != nil {
		errs = append(errs, fmt.Errorf("messages.default_locale: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

func validProxy(v string) error {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err
	}
	_, err := netip.ParseAddr(v)
	return err
}
