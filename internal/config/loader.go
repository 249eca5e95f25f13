package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "POLYORACLE_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYORACLE_* environment variable overrides,
// and returns the final Config. A missing file is not an error so a
// deployment may configure itself through the environment alone. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from POLYORACLE_* variables
// that are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setDuration(&cfg.Oracle.LockTTL, "ORACLE_LOCK_TTL")
	setDuration(&cfg.Oracle.LockWait, "ORACLE_LOCK_WAIT")

	// ── Store ──
	setStr(&cfg.Store.Backend, "STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "POSTGRES_MAX_CONN_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Auth ──
	setStr(&cfg.Auth.Mode, "AUTH_MODE")
	setStr(&cfg.Auth.KeyringPath, "AUTH_KEYRING_PATH")
	setStr(&cfg.Auth.KeyringPassword, "AUTH_KEYRING_PASSWORD")

	// ── Server ──
	setStr(&cfg.Server.Addr, "SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")
	setStringSlice(&cfg.Server.WSOrigins, "SERVER_WS_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Metrics ──
	setStr(&cfg.Metrics.Addr, "METRICS_ADDR")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setDuration(&cfg.Archive.Retention, "ARCHIVE_RETENTION")
	setInt64(&cfg.Archive.MultipartThreshold, "ARCHIVE_MULTIPART_THRESHOLD")
	setStr(&cfg.Archive.SignerKey, "ARCHIVE_SIGNER_KEY")
	setStr(&cfg.Archive.SignerKeyPath, "ARCHIVE_SIGNER_KEY_PATH")
	setStr(&cfg.Archive.SignerKeyPassword, "ARCHIVE_SIGNER_KEY_PASSWORD")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "SYNC_ENABLED")
	setStr(&cfg.Sync.GammaURL, "SYNC_GAMMA_URL")
	setDuration(&cfg.Sync.Interval, "SYNC_INTERVAL")
	setInt(&cfg.Sync.PageSize, "SYNC_PAGE_SIZE")
	setInt(&cfg.Sync.MaxMarkets, "SYNC_MAX_MARKETS")
	setStr(&cfg.Sync.AdminKey, "SYNC_ADMIN_KEY")
	setStr(&cfg.Sync.AdminKeyPath, "SYNC_ADMIN_KEY_PATH")
	setStr(&cfg.Sync.AdminKeyPassword, "SYNC_ADMIN_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Malformed values are ignored.
// ---------------------------------------------------------------------------

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := lookup(key); ok {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
