package config

import (
	"errors"
	"fmt"
	"strings"
)

// MinSecretKeyLength is the shortest accepted auth.secret_key.
const MinSecretKeyLength = 32

// Validate checks the configuration for required fields and valid values.
// Every problem is reported, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Storage.Type {
	case "memory", "postgres", "sqlite":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\" or \"sqlite\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
	}

	if c.Auth.SecretKey == "" && c.Auth.SecretKeyFile == "" {
		errs = append(errs, fmt.Errorf("auth.secret_key or auth.secret_key_file is required"))
	} else if c.Auth.SecretKey != "" && len(c.Auth.SecretKey) < MinSecretKeyLength {
		errs = append(errs, fmt.Errorf("auth.secret_key must be at least %d bytes", MinSecretKeyLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be > 0, got %v", c.Auth.TokenTTL))
	}
	if c.Auth.NonceTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.nonce_ttl must be > 0, got %v", c.Auth.NonceTTL))
	}
	if c.Auth.RateLimit.RequestsPerMinute < 0 || c.Auth.RateLimit.SignInPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit values must be >= 0"))
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" && k.KeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
		}
		if k.Subject == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: subject is required", i))
		}
	}
	for i, u := range c.Auth.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Errorf("auth.users[%d]: username is required", i))
		}
		if u.Password == "" && u.PasswordFile == "" {
			errs = append(errs, fmt.Errorf("auth.users[%d]: password or password_file is required", i))
		}
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}
	switch strings.ToLower(c.Observability.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "":
		// valid
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level must be one of trace, debug, info, warn, error, got %q", c.Observability.Logging.Level))
	}
	switch c.Observability.Logging.Format {
	case "text", "json", "":
		// valid
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format must be \"text\" or \"json\", got %q", c.Observability.Logging.Format))
	}

	return errors.Join(errs...)
}
