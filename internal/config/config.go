// Package config defines the top-level configuration for the polyoracle
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYORACLE_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auth     AuthConfig     `toml:"auth"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Archive  ArchiveConfig  `toml:"archive"`
	Sync     SyncConfig     `toml:"sync"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig tunes the engine's cross-process write lock.
type OracleConfig struct {
	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`
}

// StoreConfig selects the state backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// runs single-process with an in-process event feed.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuthConfig selects how caller credentials are verified.
//
//	signature  secp256k1 personal-sign signatures only
//	hmac       shared secrets from an encrypted keyring file only
//	any        either of the above
type AuthConfig struct {
	Mode            string `toml:"mode"`
	KeyringPath     string `toml:"keyring_path"`
	KeyringPassword string `toml:"keyring_password"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeys gate every route except health and metrics; empty disables.
	APIKeys []string `toml:"api_keys"`
	// RateLimit is requests per RateWindow per client; zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// WSOrigins restricts browser websocket clients; empty allows all.
	WSOrigins       []string `toml:"ws_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus listener. An empty Addr serves
// /metrics from the API server only.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// ArchiveConfig controls the audit-log export to S3 and the signing key
// for archived objects.
type ArchiveConfig struct {
	Cron      string   `toml:"cron"`
	Retention duration `toml:"retention"`
	// MultipartThreshold switches uploads to the multipart manager above
	// this many bytes.
	MultipartThreshold int64  `toml:"multipart_threshold"`
	SignerKey          string `toml:"signer_key"`
	SignerKeyPath      string `toml:"signer_key_path"`
	SignerKeyPassword  string `toml:"signer_key_password"`
}

// SyncConfig drives the Polymarket Gamma market importer, which registers
// upstream markets with the engine under an admin key.
type SyncConfig struct {
	Enabled          bool     `toml:"enabled"`
	GammaURL         string   `toml:"gamma_url"`
	Interval         duration `toml:"interval"`
	PageSize         int      `toml:"page_size"`
	MaxMarkets       int      `toml:"max_markets"`
	AdminKey         string   `toml:"admin_key"`
	AdminKeyPath     string   `toml:"admin_key_path"`
	AdminKeyPassword string   `toml:"admin_key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			LockTTL:  duration{10 * time.Second},
			LockWait: duration{5 * time.Second},
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "polyoracle",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "polyoracle",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyoracle-audit",
			ForcePathStyle: true,
		},
		Auth: AuthConfig{Mode: "signature"},
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"EmergencyOverride", "admin_signer_added", "required_signatures_updated", "override_cooldown_updated"},
		},
		Archive: ArchiveConfig{
			Cron:               "0 3 * * *",
			Retention:          duration{30 * 24 * time.Hour},
			MultipartThreshold: 16 << 20,
		},
		Sync: SyncConfig{
			GammaURL: "https://gamma-api.polymarket.com",
			Interval: duration{5 * time.Minute},
			PageSize: 100,
		},
		Mode:     "api",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":     true,
	"archive": true,
	"all":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAuthModes = map[string]bool{
	"signature": true,
	"hmac":      true,
	"any":       true,
}

// NeedsArchive reports whether the selected mode runs the S3 exporter.
func (c *Config) NeedsArchive() bool {
	m := strings.ToLower(c.Mode)
	return m == "archive" || m == "all"
}

// NeedsAPI reports whether the selected mode serves HTTP.
func (c *Config) NeedsAPI() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "all"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, archive, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Redis.Enabled {
		if c.Oracle.LockTTL.Duration <= 0 {
			errs = append(errs, "oracle: lock_ttl must be > 0")
		}
		if c.Oracle.LockWait.Duration < 0 {
			errs = append(errs, "oracle: lock_wait must be >= 0")
		}
	}

	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within 0..pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled || c.NeedsArchive() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.NeedsArchive() && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode "+c.Mode)
	}
	if strings.ToLower(c.Mode) == "archive" && strings.ToLower(c.Store.Backend) == "memory" {
		errs = append(errs, "archive: mode archive needs a shared store; use postgres or mode all")
	}
	if c.Archive.Retention.Duration < 0 {
		errs = append(errs, "archive: retention must be >= 0")
	}
	if c.Archive.SignerKeyPath != "" && c.Archive.SignerKeyPassword == "" {
		errs = append(errs, "archive: signer_key_password is required when signer_key_path is set")
	}

	mode := strings.ToLower(c.Auth.Mode)
	if !validAuthModes[mode] {
		errs = append(errs, fmt.Sprintf("auth: unknown mode %q (valid: signature, hmac, any)", c.Auth.Mode))
	}
	if mode == "hmac" || mode == "any" {
		if c.Auth.KeyringPath == "" && mode == "hmac" {
			errs = append(errs, "auth: keyring_path is required for mode hmac")
		}
		if c.Auth.KeyringPath != "" && c.Auth.KeyringPassword == "" {
			errs = append(errs, "auth: keyring_password is required when keyring_path is set")
		}
	}

	if c.NeedsAPI() {
		if c.Server.Addr == "" {
			errs = append(errs, "server: addr must not be empty")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Sync.Enabled {
		if c.Sync.AdminKey == "" && c.Sync.AdminKeyPath == "" {
			errs = append(errs, "sync: admin_key or admin_key_path is required")
		}
		if c.Sync.AdminKeyPath != "" && c.Sync.AdminKeyPassword == "" {
			errs = append(errs, "sync: admin_key_password is required when admin_key_path is set")
		}
		if c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: interval must be > 0")
		}
		if c.Sync.PageSize < 1 || c.Sync.PageSize > 500 {
			errs = append(errs, fmt.Sprintf("sync: page_size must be 1-500, got %d", c.Sync.PageSize))
		}
		if c.Sync.MaxMarkets < 0 {
			errs = append(errs, "sync: max_markets must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
