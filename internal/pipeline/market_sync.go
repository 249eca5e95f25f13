package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/oracle"
	"github.com/alanyoungcy/polyoracle/internal/platform/polymarket"
)

// MarketSource pages through open upstream markets.
type MarketSource interface {
	ListOpenMarkets(ctx context.Context, limit, offset int) ([]polymarket.Market, int, error)
}

// MarketRegistrar is the part of the engine the importer drives.
type MarketRegistrar interface {
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	RegisterMarket(ctx context.Context, caller domain.Credential, id domain.MarketID, resolutionTime time.Time) error
}

// CredentialSigner produces admin credentials for operation messages.
type CredentialSigner interface {
	Credential(message []byte) (domain.Credential, error)
}

// MarketSyncConfig tunes a MarketSync.
type MarketSyncConfig struct {
	PageSize int
	// MaxMarkets bounds one run; zero means no bound.
	MaxMarkets int
	// Limiter, when set, paces upstream page requests under LimiterKey.
	Limiter    domain.RateLimiter
	LimiterKey string
}

// SyncResult summarises one importer run.
type SyncResult struct {
	Seen       int
	Registered int
	Existing   int
	Skipped    int
}

// MarketSync registers open Polymarket markets with the oracle, keyed by
// condition id with the market end date as resolution time. Markets the
// oracle already knows are left alone so their tallies are never reset.
type MarketSync struct {
	source    MarketSource
	registrar MarketRegistrar
	signer    CredentialSigner
	cfg       MarketSyncConfig
	logger    *slog.Logger
}

// NewMarketSync creates a MarketSync. PageSize defaults to 100.
func NewMarketSync(source MarketSource, registrar MarketRegistrar, signer CredentialSigner, cfg MarketSyncConfig, logger *slog.Logger) *MarketSync {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.LimiterKey == "" {
		cfg.LimiterKey = "gamma"
	}
	return &MarketSync{
		source:    source,
		registrar: registrar,
		signer:    signer,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "market_sync")),
	}
}

// Run performs one pass over the upstream markets.
func (s *MarketSync) Run(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	for offset := 0; ; offset += s.cfg.PageSize {
		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Wait(ctx, s.cfg.LimiterKey); err != nil {
				return res, fmt.Errorf("pipeline: market sync: %w", err)
			}
		}
		page, skipped, err := s.source.ListOpenMarkets(ctx, s.cfg.PageSize, offset)
		if err != nil {
			return res, fmt.Errorf("pipeline: market sync: %w", err)
		}
		res.Skipped += skipped

		for _, m := range page {
			if s.cfg.MaxMarkets > 0 && res.Seen >= s.cfg.MaxMarkets {
				s.logDone(ctx, res)
				return res, nil
			}
			res.Seen++
			registered, err := s.syncOne(ctx, m)
			if err != nil {
				return res, err
			}
			if registered {
				res.Registered++
			} else {
				res.Existing++
			}
		}
		if len(page)+skipped < s.cfg.PageSize {
			break
		}
	}
	s.logDone(ctx, res)
	return res, nil
}

func (s *MarketSync) syncOne(ctx context.Context, m polymarket.Market) (bool, error) {
	_, err := s.registrar.GetMarket(ctx, m.ID)
	if err == nil {
		return false, nil
	}
	if !errorsmod.IsOf(err, domain.ErrMarketNotRegistered) {
		return false, fmt.Errorf("pipeline: market sync: lookup %s: %w", m.ID.Hex(), err)
	}

	resolution := m.EndDate.UTC().Truncate(time.Second)
	cred, err := s.signer.Credential(oracle.RegisterMarketMessage(m.ID, resolution))
	if err != nil {
		return false, fmt.Errorf("pipeline: market sync: sign %s: %w", m.ID.Hex(), err)
	}
	if err := s.registrar.RegisterMarket(ctx, cred, m.ID, resolution); err != nil {
		return false, fmt.Errorf("pipeline: market sync: register %s: %w", m.ID.Hex(), err)
	}
	s.logger.InfoContext(ctx, "registered market",
		slog.String("market_id", m.ID.Hex()),
		slog.String("slug", m.Slug),
		slog.Time("resolution_time", resolution),
	)
	return true, nil
}

func (s *MarketSync) logDone(ctx context.Context, res SyncResult) {
	s.logger.InfoContext(ctx, "market sync complete",
		slog.Int("seen", res.Seen),
		slog.Int("registered", res.Registered),
		slog.Int("existing", res.Existing),
		slog.Int("skipped", res.Skipped),
	)
}

// RunLoop runs the importer immediately and then every interval until ctx
// is cancelled. Failures are logged and the next tick retries; until the
// oracle is initialized with the importer's key as admin every run fails.
func (s *MarketSync) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			level := slog.LevelError
			if domain.KindOf(err) == domain.KindAuthorization || errors.Is(err, domain.ErrNotInitialized) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "market sync failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
