// Package config provides unified configuration for the todo service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (TODOAPI_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the todo service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log/slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: info
	Format string `yaml:"format"` // text or json; default: text
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
}

// StorageConfig selects and configures the store.
type StorageConfig struct {
	Type      string         `yaml:"type"`       // "memory", "postgres" or "sqlite", default: "memory"
	MaxNonces int            `yaml:"max_nonces"` // memory store only, default: 10000
	Postgres  PostgresConfig `yaml:"postgres"`
	SQLite    SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: "todoapi.db"
}

// AuthConfig holds token, nonce and credential settings.
type AuthConfig struct {
	SecretKey       string          `yaml:"secret_key"`       // required, at least 32 bytes
	SecretKeyFile   string          `yaml:"secret_key_file"`  // _file variant for secret_key
	Issuer          string          `yaml:"issuer"`           // default: "todoapi"
	TokenTTL        time.Duration   `yaml:"token_ttl"`        // default: 1h
	NonceTTL        time.Duration   `yaml:"nonce_ttl"`        // default: 5m
	JanitorInterval time.Duration   `yaml:"janitor_interval"` // default: 1m
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	APIKeys         []APIKeyConfig  `yaml:"api_keys"`
	Users           []UserConfig    `yaml:"users"`
}

// RateLimitConfig holds per-key request limits. Zero disables a limit.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // per authenticated subject
	SignInPerMinute   int `yaml:"signin_per_minute"`   // per username, default: 10
}

// APIKeyConfig describes a single service key.
type APIKeyConfig struct {
	Key     string `yaml:"key" json:"key"`
	KeyFile string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject string `yaml:"subject" json:"subject"`
}

// UserConfig describes a user created at startup if missing.
type UserConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	PasswordFile string `yaml:"password_file" json:"password_file"` // _file variant for password
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Storage: StorageConfig{
			Type:      "memory",
			MaxNonces: 10000,
			Postgres: PostgresConfig{
				MaxConns:       25,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{
				Path: "todoapi.db",
			},
		},
		Auth: AuthConfig{
			Issuer:          "todoapi",
			TokenTTL:        time.Hour,
			NonceTTL:        5 * time.Minute,
			JanitorInterval: time.Minute,
			RateLimit: RateLimitConfig{
				SignInPerMinute: 10,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}
