package oracle

import (
	"context"
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// Evaluate decides consensus from a threshold and the recorded votes.
// Fewer voters than threshold is never consensus. Otherwise the side that
// reaches the threshold and is strictly ahead wins; a tie is no consensus.
// A not-reached result always reports OutcomeNo.
func Evaluate(threshold uint32, votes []domain.Outcome) (bool, domain.Outcome) {
	if uint64(len(votes)) < uint64(threshold) {
		return false, domain.OutcomeNo
	}

	var yes, no uint32
	for _, v := range votes {
		if v == domain.OutcomeYes {
			yes++
		} else {
			no++
		}
	}

	switch {
	case yes >= threshold && yes > no:
		return true, domain.OutcomeYes
	case no >= threshold && no > yes:
		return true, domain.OutcomeNo
	default:
		return false, domain.OutcomeNo
	}
}

// CheckConsensus evaluates id against the configured threshold. Votes are
// re-read from the voter list and each voter's attestation, not from the
// running tallies. It writes nothing and may be called any number of times.
func (e *Engine) CheckConsensus(ctx context.Context, id domain.MarketID) (bool, domain.Outcome, error) {
	var (
		reached bool
		outcome domain.Outcome
	)
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		cfg, err := loadConfig(ctx, r)
		if errorsmod.IsOf(err, domain.ErrNotInitialized) {
			return nil
		}
		if err != nil {
			return err
		}

		voters, err := r.Attestations.Voters(ctx, id)
		if err != nil {
			return fmt.Errorf("load voters: %w", err)
		}
		votes := make([]domain.Outcome, 0, len(voters))
		for _, v := range voters {
			a, err := r.Attestations.Get(ctx, id, v)
			if err != nil {
				return fmt.Errorf("load vote of %s: %w", v, err)
			}
			votes = append(votes, a.Outcome)
		}

		reached, outcome = Evaluate(cfg.RequiredConsensus, votes)
		return nil
	})
	if err != nil {
		return false, domain.OutcomeNo, fmt.Errorf("oracle: check consensus: %w", err)
	}
	return reached, outcome, nil
}

// GetConsensusResult returns the stored outcome of id. Only an emergency
// override writes this slot, so an un-overridden market reports
// ErrConsensusResultNotFound even when CheckConsensus has reached consensus.
func (e *Engine) GetConsensusResult(ctx context.Context, id domain.MarketID) (domain.Outcome, error) {
	var out domain.Outcome
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		res, err := r.Overrides.GetResult(ctx, id)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return errorsmod.Wrapf(domain.ErrConsensusResultNotFound, "%s", id.Hex())
		}
		if err != nil {
			return fmt.Errorf("load consensus result: %w", err)
		}
		out = res.Outcome
		return nil
	})
	return out, err
}
