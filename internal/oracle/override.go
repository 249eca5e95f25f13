package oracle

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// EmergencyOverride forces the consensus result of a market. It needs at
// least RequiredSignatures distinct admin signers, each proving control for
// this exact override, and the global cooldown since the previous override
// (on any market) must have elapsed. Checks run in this order: outcome,
// approver count, per-approver authentication and membership, duplicates,
// cooldown, market registration. An override always replaces the current
// result, including an earlier override. On success it returns the record it
// stored.
func (e *Engine) EmergencyOverride(ctx context.Context, approvers []domain.Credential, id domain.MarketID, forced domain.Outcome, justification domain.Hash) (domain.OverrideRecord, error) {
	canon := make([]domain.Credential, len(approvers))
	for i, a := range approvers {
		canon[i] = canonical(a)
	}
	approvers = canon

	var stored domain.OverrideRecord
	err := e.mutate(ctx, OpEmergencyOverride, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		if !forced.Valid() {
			return nil, errorsmod.Wrapf(domain.ErrInvalidOutcome, "got %d", uint32(forced))
		}

		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return nil, err
		}

		if uint64(len(approvers)) < uint64(cfg.RequiredSignatures) {
			return nil, errorsmod.Wrapf(domain.ErrInsufficientApprovers,
				"got %d, need %d", len(approvers), cfg.RequiredSignatures)
		}

		msg := OverrideMessage(id, forced, justification, cfg.LastOverrideTime)
		for _, a := range approvers {
			if err := e.authenticate(ctx, a, msg); err != nil {
				return nil, err
			}
			if !cfg.IsSigner(a.Identity) {
				return nil, errorsmod.Wrapf(domain.ErrInvalidApprover, "%s", a.Identity)
			}
		}

		seen := make(map[domain.Address]struct{}, len(approvers))
		identities := make([]domain.Address, 0, len(approvers))
		for _, a := range approvers {
			if _, dup := seen[a.Identity]; dup {
				return nil, errorsmod.Wrapf(domain.ErrDuplicateApprover, "%s", a.Identity)
			}
			seen[a.Identity] = struct{}{}
			identities = append(identities, a.Identity)
		}

		if !cfg.LastOverrideTime.IsZero() {
			if elapsed := now.Sub(cfg.LastOverrideTime); elapsed < cfg.OverrideCooldown {
				return nil, errorsmod.Wrapf(domain.ErrCooldownActive,
					"%s remaining", (cfg.OverrideCooldown - elapsed).String())
			}
		}

		if _, err := getMarket(ctx, r, id); err != nil {
			return nil, err
		}

		if err := r.Overrides.PutResult(ctx, domain.ConsensusResult{
			MarketID:       id,
			Outcome:        forced,
			ManualOverride: true,
			UpdatedAt:      now,
		}); err != nil {
			return nil, fmt.Errorf("store consensus result: %w", err)
		}
		rec := domain.OverrideRecord{
			MarketID:          id,
			ForcedOutcome:     forced,
			JustificationHash: justification,
			Approvers:         identities,
			Timestamp:         now,
		}
		if err := r.Overrides.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("store override record: %w", err)
		}
		cfg.LastOverrideTime = now
		if err := r.Admin.Put(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store admin config: %w", err)
		}

		stored = rec

		approverStrings := make([]string, len(identities))
		for i, a := range identities {
			approverStrings[i] = a.String()
		}
		return []domain.Event{{
			Type: domain.EventEmergencyOverride,
			Attributes: map[string]any{
				"market_id":          id.Hex(),
				"forced_outcome":     uint32(forced),
				"justification_hash": justification.Hex(),
				"approvers":          approverStrings,
				"timestamp":          now.Unix(),
			},
		}}, nil
	})
	if err != nil {
		return domain.OverrideRecord{}, err
	}
	return stored, nil
}

// GetOverrideRecord returns the latest override record of id and whether one
// exists.
func (e *Engine) GetOverrideRecord(ctx context.Context, id domain.MarketID) (domain.OverrideRecord, bool, error) {
	var (
		rec   domain.OverrideRecord
		found bool
	)
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		rec, err = r.Overrides.Latest(ctx, id)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return domain.OverrideRecord{}, false, fmt.Errorf("oracle: get override record: %w", err)
	}
	return rec, found, nil
}

// ListOverrideRecords returns every override of id, oldest first.
func (e *Engine) ListOverrideRecords(ctx context.Context, id domain.MarketID) ([]domain.OverrideRecord, error) {
	var out []domain.OverrideRecord
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		out, err = r.Overrides.History(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: list override records: %w", err)
	}
	return out, nil
}

// IsManualOverride reports whether id has ever been overridden.
func (e *Engine) IsManualOverride(ctx context.Context, id domain.MarketID) (bool, error) {
	var manual bool
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		res, err := r.Overrides.GetResult(ctx, id)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		manual = res.ManualOverride
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("oracle: is manual override: %w", err)
	}
	return manual, nil
}
