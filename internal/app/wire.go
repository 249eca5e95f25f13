package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/polyoracle/internal/blob/s3"
	"github.com/alanyoungcy/polyoracle/internal/cache/redis"
	"github.com/alanyoungcy/polyoracle/internal/config"
	"github.com/alanyoungcy/polyoracle/internal/crypto"
	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/metrics"
	"github.com/alanyoungcy/polyoracle/internal/notify"
	"github.com/alanyoungcy/polyoracle/internal/oracle"
	"github.com/alanyoungcy/polyoracle/internal/pipeline"
	"github.com/alanyoungcy/polyoracle/internal/platform/polymarket"
	"github.com/alanyoungcy/polyoracle/internal/server/handler"
	"github.com/alanyoungcy/polyoracle/internal/store/memory"
	"github.com/alanyoungcy/polyoracle/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine *oracle.Engine
	Store  domain.Store
	// StoreName is "memory" or "postgres".
	StoreName string

	// Redis collaborators; nil when redis is disabled.
	Bus         *redis.EventBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage; nil when s3 is disabled.
	BlobWriter      domain.BlobWriter
	BlobReader      domain.BlobReader
	EventArchiver   domain.Archiver
	OverrideArchive *s3blob.OverrideArchive

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// MarketSync imports Polymarket markets; nil unless sync is enabled.
	MarketSync *pipeline.MarketSync

	// Checks back GET /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Engine sinks other than the
// live websocket feed are attached here.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- State store ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx, logger); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.StoreName = "postgres"
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	default:
		deps.Store = memory.New()
		deps.StoreName = "memory"
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, 0, 0)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Archive signing key ---
	var signer *crypto.Signer
	if cfg.Archive.SignerKey != "" || cfg.Archive.SignerKeyPath != "" {
		hexKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Archive.SignerKey,
			EncryptedKeyPath: cfg.Archive.SignerKeyPath,
			KeyPassword:      cfg.Archive.SignerKeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: archive signer: %w", err))
		}
		if signer, err = crypto.NewSigner(hexKey); err != nil {
			return fail(fmt.Errorf("wire: archive signer: %w", err))
		}
		logger.InfoContext(ctx, "archive signing enabled",
			slog.String("component", "wire"),
			slog.String("signer", signer.Address().Hex()),
		)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health

		opts := []s3blob.ArchiverOption{s3blob.WithMultipartThreshold(cfg.Archive.MultipartThreshold)}
		var archiveSigner s3blob.Signer
		if signer != nil {
			opts = append(opts, s3blob.WithSigner(signer))
			archiveSigner = signer
		}
		deps.EventArchiver = s3blob.NewArchiver(deps.Store, deps.BlobWriter, logger, opts...)
		deps.OverrideArchive = s3blob.NewOverrideArchive(deps.BlobWriter, deps.BlobReader, archiveSigner, logger)
	}

	// --- Authentication ---
	auth, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	sinks := []domain.EventSink{deps.Metrics}
	if deps.Bus != nil {
		sinks = append(sinks, deps.Bus.Sink())
	}
	if deps.OverrideArchive != nil {
		sinks = append(sinks, deps.OverrideArchive)
	}
	if len(senders) > 0 {
		sinks = append(sinks, deps.Notifier)
	}

	engineCfg := oracle.Config{
		Store:    deps.Store,
		Auth:     auth,
		LockTTL:  cfg.Oracle.LockTTL.Duration,
		LockWait: cfg.Oracle.LockWait.Duration,
		Sinks:    sinks,
		Recorder: deps.Metrics,
	}
	if deps.LockManager != nil {
		engineCfg.Lock = deps.LockManager
	}
	deps.Engine, err = oracle.NewEngine(engineCfg, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Market importer ---
	if cfg.Sync.Enabled {
		hexKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Sync.AdminKey,
			EncryptedKeyPath: cfg.Sync.AdminKeyPath,
			KeyPassword:      cfg.Sync.AdminKeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: sync admin key: %w", err))
		}
		admin, err := crypto.NewSigner(hexKey)
		if err != nil {
			return fail(fmt.Errorf("wire: sync admin key: %w", err))
		}
		deps.MarketSync = pipeline.NewMarketSync(
			polymarket.NewGammaClient(cfg.Sync.GammaURL),
			deps.Engine,
			admin,
			pipeline.MarketSyncConfig{
				PageSize:   cfg.Sync.PageSize,
				MaxMarkets: cfg.Sync.MaxMarkets,
				Limiter:    deps.RateLimiter,
			},
			logger,
		)
		logger.InfoContext(ctx, "market sync enabled",
			slog.String("component", "wire"),
			slog.String("admin", admin.Address().Hex()),
		)
	}

	return deps, cleanup, nil
}

// buildAuthenticator returns the credential verifier for the configured
// auth mode.
func buildAuthenticator(cfg config.AuthConfig) (domain.Authenticator, error) {
	var keyring map[string][]byte
	if cfg.KeyringPath != "" {
		var err error
		keyring, err = crypto.LoadKeyring(cfg.KeyringPath, cfg.KeyringPassword)
		if err != nil {
			return nil, fmt.Errorf("auth keyring: %w", err)
		}
	}

	switch strings.ToLower(cfg.Mode) {
	case "signature":
		return crypto.NewSignatureAuthenticator(), nil
	case "hmac":
		if keyring == nil {
			return nil, fmt.Errorf("auth mode hmac needs a keyring")
		}
		return crypto.NewHMACAuthenticator(keyring), nil
	case "any":
		chain := crypto.ChainAuthenticator{crypto.NewSignatureAuthenticator()}
		if keyring != nil {
			chain = append(chain, crypto.NewHMACAuthenticator(keyring))
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
