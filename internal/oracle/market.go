package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// RegisterMarket records the resolution time of a market and resets its
// tallies. Re-registering an existing market overwrites both.
func (e *Engine) RegisterMarket(ctx context.Context, caller domain.Credential, id domain.MarketID, resolutionTime time.Time) error {
	caller = canonical(caller)
	resolutionTime = resolutionTime.UTC().Truncate(time.Second)
	return e.mutate(ctx, OpRegisterMarket, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}
		if err := e.requireAdmin(ctx, cfg, caller, RegisterMarketMessage(id, resolutionTime)); err != nil {
			return nil, err
		}

		if prev, err := r.Markets.Get(ctx, id); err == nil {
			// Attestations already recorded stay in place while the tallies
			// restart from zero.
			e.logger.WarnContext(ctx, "re-registering market resets tallies",
				slog.String("market_id", id.Hex()),
				slog.Uint64("yes_count", uint64(prev.YesCount)),
				slog.Uint64("no_count", uint64(prev.NoCount)),
			)
		} else if !errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load market: %w", err)
		}

		m := domain.Market{
			ID:             id,
			ResolutionTime: resolutionTime,
			RegisteredAt:   now,
		}
		if err := r.Markets.Put(ctx, m); err != nil {
			return nil, fmt.Errorf("store market: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventMarketRegistered,
			Attributes: map[string]any{
				"market_id":       id.Hex(),
				"resolution_time": resolutionTime.Unix(),
			},
		}}, nil
	})
}

// GetMarket returns the registration of id, or ErrMarketNotRegistered.
func (e *Engine) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	var m domain.Market
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		m, err = getMarket(ctx, r, id)
		return err
	})
	return m, err
}

// GetResolutionTime returns the resolution time of id and whether the market
// is registered.
func (e *Engine) GetResolutionTime(ctx context.Context, id domain.MarketID) (time.Time, bool, error) {
	m, err := e.GetMarket(ctx, id)
	if errorsmod.IsOf(err, domain.ErrMarketNotRegistered) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return m.ResolutionTime, true, nil
}

func getMarket(ctx context.Context, r domain.Repositories, id domain.MarketID) (domain.Market, error) {
	m, err := r.Markets.Get(ctx, id)
	if errorsmod.IsOf(err, domain.ErrNotFound) {
		return domain.Market{}, errorsmod.Wrapf(domain.ErrMarketNotRegistered, "%s", id.Hex())
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("load market: %w", err)
	}
	return m, nil
}
