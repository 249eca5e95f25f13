package oracle

import (
	"context"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// SubmitAttestation records oracle's vote on a market. The oracle must
// authenticate, be registered, the market must be registered and past its
// resolution time, the outcome must be binary and the oracle must not have
// voted on this market before. Checks run in that order.
func (e *Engine) SubmitAttestation(ctx context.Context, oracle domain.Credential, id domain.MarketID, outcome domain.Outcome, evidence domain.Hash) error {
	oracle = canonical(oracle)
	return e.mutate(ctx, OpSubmitAttestation, func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error) {
		if err := e.authenticate(ctx, oracle, AttestationMessage(id, outcome, evidence)); err != nil {
			return nil, err
		}

		if _, err := r.Oracles.Get(ctx, oracle.Identity); err != nil {
			if errorsmod.IsOf(err, domain.ErrNotFound) {
				return nil, errorsmod.Wrapf(domain.ErrNotRegistered, "%s", oracle.Identity)
			}
			return nil, fmt.Errorf("load oracle: %w", err)
		}

		m, err := getMarket(ctx, r, id)
		if err != nil {
			return nil, err
		}
		if now.Before(m.ResolutionTime) {
			return nil, errorsmod.Wrapf(domain.ErrTooEarly,
				"market %s resolves at %s", id.Hex(), m.ResolutionTime.Format(time.RFC3339))
		}

		if !outcome.Valid() {
			return nil, errorsmod.Wrapf(domain.ErrInvalidOutcome, "got %d", uint32(outcome))
		}

		if _, err := r.Attestations.Get(ctx, id, oracle.Identity); err == nil {
			return nil, errorsmod.Wrapf(domain.ErrDuplicateVote, "%s on %s", oracle.Identity, id.Hex())
		} else if !errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load attestation: %w", err)
		}

		a := domain.Attestation{
			MarketID:     id,
			Oracle:       oracle.Identity,
			Outcome:      outcome,
			EvidenceHash: evidence,
			Timestamp:    now,
		}
		if err := r.Attestations.Insert(ctx, a); err != nil {
			if errorsmod.IsOf(err, domain.ErrAlreadyExists) {
				return nil, errorsmod.Wrapf(domain.ErrDuplicateVote, "%s on %s", oracle.Identity, id.Hex())
			}
			return nil, fmt.Errorf("insert attestation: %w", err)
		}
		if err := r.Markets.IncrementTally(ctx, id, outcome); err != nil {
			return nil, fmt.Errorf("increment tally: %w", err)
		}

		return []domain.Event{{
			Type: domain.EventAttestationSubmitted,
			Attributes: map[string]any{
				"market_id":     id.Hex(),
				"oracle":        oracle.Identity.String(),
				"outcome":       uint32(outcome),
				"evidence_hash": evidence.Hex(),
				"timestamp":     now.Unix(),
			},
		}}, nil
	})
}

// GetAttestation returns the attestation of oracle on id and whether it
// exists.
func (e *Engine) GetAttestation(ctx context.Context, id domain.MarketID, oracle domain.Address) (domain.Attestation, bool, error) {
	oracle = domain.NewAddress(string(oracle))
	var (
		a     domain.Attestation
		found bool
	)
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		a, err = r.Attestations.Get(ctx, id, oracle)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return domain.Attestation{}, false, fmt.Errorf("oracle: get attestation: %w", err)
	}
	return a, found, nil
}

// GetAttestationCounts returns the running (yes, no) tallies of id. An
// unregistered market reports (0, 0).
func (e *Engine) GetAttestationCounts(ctx context.Context, id domain.MarketID) (yes, no uint32, err error) {
	err = e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		m, err := r.Markets.Get(ctx, id)
		if errorsmod.IsOf(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		yes, no = m.YesCount, m.NoCount
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("oracle: attestation counts: %w", err)
	}
	return yes, no, nil
}

// ListAttestations returns every attestation on id in submission order.
func (e *Engine) ListAttestations(ctx context.Context, id domain.MarketID) ([]domain.Attestation, error) {
	var out []domain.Attestation
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		var err error
		out, err = r.Attestations.List(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: list attestations: %w", err)
	}
	return out, nil
}
