package oracle

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// Initialize creates the admin configuration. The admin becomes the sole
// signer, the override quorum defaults to two signatures and the cooldown to
// 24 hours. A second call fails with ErrAlreadyInitialized.
func (e *Engine) Initialize(ctx context.Context, admin domain.Credential, requiredConsensus uint32) error {
	admin = canonical(admin)
	return e.mutate(ctx, OpInitialize, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		if err := e.authenticate(ctx, admin, InitializeMessage(admin.Identity, requiredConsensus)); err != nil {
			return nil, err
		}
		if requiredConsensus == 0 || requiredConsensus > domain.MaxOracles {
			return nil, errorsmod.Wrapf(domain.ErrInvalidValue,
				"required consensus %d must be within 1..%d", requiredConsensus, domain.MaxOracles)
		}
		if _, err := r.Admin.Get(ctx); err == nil {
			return nil, domain.ErrAlreadyInitialized
		} else if !errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load admin config: %w", err)
		}

		cfg := domain.AdminConfig{
			Admin:              admin.Identity,
			RequiredConsensus:  requiredConsensus,
			Signers:            []domain.Address{admin.Identity},
			RequiredSignatures: domain.DefaultRequiredSignatures,
			OverrideCooldown:   domain.DefaultOverrideCooldown,
			InitializedAt:      now,
		}
		if err := r.Admin.Put(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store admin config: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventOracleInitialized,
			Attributes: map[string]any{
				"admin":              admin.Identity.String(),
				"required_consensus": requiredConsensus,
			},
		}}, nil
	})
}

// requireSigner authenticates caller and checks signer membership.
func (e *Engine) requireSigner(ctx context.Context, cfg domain.AdminConfig, caller domain.Credential, message []byte) error {
	if err := e.authenticate(ctx, caller, message); err != nil {
		return err
	}
	if !cfg.IsSigner(caller.Identity) {
		return errorsmod.Wrapf(domain.ErrNotAdmin, "%s", caller.Identity)
	}
	return nil
}

// requireAdmin authenticates caller and checks it is the configured admin.
func (e *Engine) requireAdmin(ctx context.Context, cfg domain.AdminConfig, caller domain.Credential, message []byte) error {
	if err := e.authenticate(ctx, caller, message); err != nil {
		return err
	}
	if caller.Identity != cfg.Admin {
		return errorsmod.Wrapf(domain.ErrNotAdmin, "%s", caller.Identity)
	}
	return nil
}

// AddAdminSigner adds newAdmin to the signer set. The caller must already
// be a signer.
func (e *Engine) AddAdminSigner(ctx context.Context, caller domain.Credential, newAdmin domain.Address) error {
	caller = canonical(caller)
	newAdmin = domain.NewAddress(string(newAdmin))
	return e.mutate(ctx, OpAddAdminSigner, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}
		if err := e.requireSigner(ctx, cfg, caller, AddAdminSignerMessage(newAdmin)); err != nil {
			return nil, err
		}
		if newAdmin == "" {
			return nil, errorsmod.Wrap(domain.ErrInvalidValue, "empty admin address")
		}
		if cfg.IsSigner(newAdmin) {
			return nil, errorsmod.Wrapf(domain.ErrAlreadyAdmin, "%s", newAdmin)
		}

		cfg.Signers = append(append([]domain.Address(nil), cfg.Signers...), newAdmin)
		if err := r.Admin.Put(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store admin config: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventAdminSignerAdded,
			Attributes: map[string]any{
				"caller": caller.Identity.String(),
				"admin":  newAdmin.String(),
			},
		}}, nil
	})
}

// SetRequiredSignatures changes the override quorum to n, which must be in
// 1..len(signers).
func (e *Engine) SetRequiredSignatures(ctx context.Context, caller domain.Credential, n uint32) error {
	caller = canonical(caller)
	return e.mutate(ctx, OpSetRequiredSignatures, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}
		if err := e.requireSigner(ctx, cfg, caller, RequiredSignaturesMessage(n)); err != nil {
			return nil, err
		}
		if n == 0 || int(n) > len(cfg.Signers) {
			return nil, errorsmod.Wrapf(domain.ErrInvalidValue,
				"required signatures %d must be within 1..%d", n, len(cfg.Signers))
		}

		cfg.RequiredSignatures = n
		if err := r.Admin.Put(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store admin config: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventRequiredSignaturesUpdated,
			Attributes: map[string]any{
				"caller":              caller.Identity.String(),
				"required_signatures": n,
			},
		}}, nil
	})
}

// SetOverrideCooldown changes the global override cooldown. Values below
// one hour are rejected with ErrTooShort.
func (e *Engine) SetOverrideCooldown(ctx context.Context, caller domain.Credential, cooldown time.Duration) error {
	caller = canonical(caller)
	return e.mutate(ctx, OpSetOverrideCooldown, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}
		if err := e.requireSigner(ctx, cfg, caller, OverrideCooldownMessage(cooldown)); err != nil {
			return nil, err
		}
		if cooldown < domain.MinOverrideCooldown {
			return nil, errorsmod.Wrapf(domain.ErrTooShort, "got %s", cooldown)
		}

		cfg.OverrideCooldown = cooldown.Truncate(time.Second)
		if err := r.Admin.Put(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store admin config: %w", err)
		}
		return []domain.Event{{
			Type: domain.EventOverrideCooldownUpdated,
			Attributes: map[string]any{
				"caller":           caller.Identity.String(),
				"cooldown_seconds": int64(cfg.OverrideCooldown / time.Second),
			},
		}}, nil
	})
}

// AdminConfig returns the full admin configuration.
func (e *Engine) AdminConfig(ctx context.Context) (domain.AdminConfig, error) {
	var cfg domain.AdminConfig
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		cfg, err = loadConfig(ctx, r)
		return err
	})
	return cfg, err
}

// adminOrDefaults returns the stored configuration, or the defaults the
// getters report before initialisation.
func (e *Engine) adminOrDefaults(ctx context.Context) (domain.AdminConfig, error) {
	cfg, err := e.AdminConfig(ctx)
	if errorsmod.IsOf(err, domain.ErrNotInitialized) {
		return domain.AdminConfig{
			RequiredSignatures: domain.DefaultRequiredSignatures,
			OverrideCooldown:   domain.DefaultOverrideCooldown,
		}, nil
	}
	return cfg, err
}

// GetAdminSigners returns the signer set, empty before initialisation.
func (e *Engine) GetAdminSigners(ctx context.Context) ([]domain.Address, error) {
	cfg, err := e.adminOrDefaults(ctx)
	if err != nil {
		return nil, err
	}
	return append([]domain.Address{}, cfg.Signers...), nil
}

// GetRequiredSignatures returns the override quorum (2 before
// initialisation).
func (e *Engine) GetRequiredSignatures(ctx context.Context) (uint32, error) {
	cfg, err := e.adminOrDefaults(ctx)
	return cfg.RequiredSignatures, err
}

// GetOverrideCooldown returns the global override cooldown (24h before
// initialisation).
func (e *Engine) GetOverrideCooldown(ctx context.Context) (time.Duration, error) {
	cfg, err := e.adminOrDefaults(ctx)
	return cfg.OverrideCooldown, err
}

// GetLastOverrideTime returns the time of the most recent override, or the
// zero time when none has happened.
func (e *Engine) GetLastOverrideTime(ctx context.Context) (time.Time, error) {
	cfg, err := e.adminOrDefaults(ctx)
	return cfg.LastOverrideTime, err
}

// GetRequiredConsensus returns the attestation threshold.
func (e *Engine) GetRequiredConsensus(ctx context.Context) (uint32, error) {
	cfg, err := e.adminOrDefaults(ctx)
	return cfg.RequiredConsensus, err
}
