package oracle

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// RegisterOracle adds oracle to the registry. Only the configured admin may
// call it, the registry holds at most domain.MaxOracles entries and an
// address can be registered once.
func (e *Engine) RegisterOracle(ctx context.Context, caller domain.Credential, oracle domain.Address, name string) error {
	caller = canonical(caller)
	oracle = domain.NewAddress(string(oracle))
	return e.mutate(ctx, OpRegisterOracle, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}
		if err := e.requireAdmin(ctx, cfg, caller, RegisterOracleMessage(oracle, name)); err != nil {
			return nil, err
		}
		if oracle == "" {
			return nil, errorsmod.Wrap(domain.ErrInvalidValue, "empty oracle address")
		}

		count, err := r.Oracles.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count oracles: %w", err)
		}
		if count >= domain.MaxOracles {
			return nil, errorsmod.Wrapf(domain.ErrRegistryFull, "%d oracles registered", count)
		}

		if _, err := r.Oracles.Get(ctx, oracle); err == nil {
			return nil, errorsmod.Wrapf(domain.ErrAlreadyRegistered, "%s", oracle)
		} else if !errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load oracle: %w", err)
		}

		o := domain.Oracle{
			Address:      oracle,
			Name:         name,
			Accuracy:     domain.DefaultAccuracy,
			RegisteredAt: now,
		}
		if err := r.Oracles.Insert(ctx, o); err != nil {
			if errorsmod.IsOf(err, domain.ErrAlreadyExists) {
				return nil, errorsmod.Wrapf(domain.ErrAlreadyRegistered, "%s", oracle)
			}
			return nil, fmt.Errorf("insert oracle: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventOracleRegistered,
			Attributes: map[string]any{
				"oracle":    oracle.String(),
				"name":      name,
				"timestamp": now.Unix(),
			},
		}}, nil
	})
}

// GetOracle returns the registered oracle at addr, or ErrNotRegistered.
func (e *Engine) GetOracle(ctx context.Context, addr domain.Address) (domain.Oracle, error) {
	addr = domain.NewAddress(string(addr))
	var o domain.Oracle
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		o, err = r.Oracles.Get(ctx, addr)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return errorsmod.Wrapf(domain.ErrNotRegistered, "%s", addr)
		}
		return err
	})
	return o, err
}

// ListOracles returns every registered oracle in registration order.
func (e *Engine) ListOracles(ctx context.Context) ([]domain.Oracle, error) {
	var out []domain.Oracle
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		out, err = r.Oracles.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: list oracles: %w", err)
	}
	return out, nil
}

// OracleCount returns the number of registered oracles.
func (e *Engine) OracleCount(ctx context.Context) (int, error) {
	var n int
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		n, err = r.Oracles.Count(ctx)
		return err
	})
	return n, err
}
