package oracle

import (
	"context"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// The interfaces below name capabilities that have no implementation yet.
// They fix the call shape so transports and collaborators can be written
// against them.

// Deregistrar removes an oracle from active duty. A deregistered oracle
// keeps its history and attestations but can no longer vote, and it frees a
// registry slot.
type Deregistrar interface {
	DeregisterOracle(ctx context.Context, caller domain.Credential, oracle domain.Address) error
}

// Finalizer copies a reached consensus into the result slot once the
// finality delay has passed and no dispute is open, then notifies
// settlement. Until one exists only EmergencyOverride writes that slot.
type Finalizer interface {
	FinalizeResolution(ctx context.Context, id domain.MarketID) error
}

// DisputeResolver lets a stakeholder challenge an attestation and an admin
// settle the challenge. An open challenge blocks finalisation.
type DisputeResolver interface {
	ChallengeAttestation(ctx context.Context, challenger domain.Credential, id domain.MarketID, oracle domain.Address, evidence domain.Hash) error
	ResolveChallenge(ctx context.Context, caller domain.Credential, id domain.MarketID, oracle domain.Address, upheld bool) error
}

// ReputationScorer adjusts oracle accuracy after a market settles.
type ReputationScorer interface {
	UpdateAccuracy(ctx context.Context, id domain.MarketID, final domain.Outcome) error
}

// ThresholdUpdater changes the attestation threshold after initialisation.
type ThresholdUpdater interface {
	SetConsensusThreshold(ctx context.Context, caller domain.Credential, threshold uint32) error
}

// Reporter summarises oracle activity.
type Reporter interface {
	ConsensusReport(ctx context.Context) (map[string]any, error)
}

// SettlementReader is the read surface the settlement component consumes.
type SettlementReader interface {
	GetConsensusResult(ctx context.Context, id domain.MarketID) (domain.Outcome, error)
	IsManualOverride(ctx context.Context, id domain.MarketID) (bool, error)
}

var _ SettlementReader = (*Engine)(nil)
