package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxOracles is the hard capacity of the oracle registry.
const MaxOracles = 10

// DefaultAccuracy is the accuracy score every oracle starts with.
const DefaultAccuracy uint32 = 100

// Admin defaults applied by Initialize.
const (
	DefaultRequiredSignatures uint32 = 2
	DefaultOverrideCooldown          = 24 * time.Hour
	MinOverrideCooldown              = time.Hour
)

// Hash is a 32-byte content hash (evidence, justification).
type Hash = common.Hash

// MarketID is the fixed-size opaque identifier of a market.
type MarketID = common.Hash

// ParseMarketID decodes a 0x-prefixed 64 character hex string.
func ParseMarketID(s string) (MarketID, error) {
	return parseHash(s)
}

// ParseHash decodes a 0x-prefixed 64 character hex string.
func ParseHash(s string) (Hash, error) {
	return parseHash(s)
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("parse hash %q: expected %d bytes, got %d", s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// Address identifies an oracle or admin. Hex EVM addresses are normalised to
// their checksummed form so comparisons are case-insensitive.
type Address string

// NewAddress normalises s into an Address.
func NewAddress(s string) Address {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return Address(common.HexToAddress(s).Hex())
	}
	return Address(s)
}

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// UnmarshalJSON normalises the decoded string with NewAddress.
func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	*a = NewAddress(s)
	return nil
}

// Outcome is a binary market outcome.
type Outcome uint32

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

func (o Outcome) String() string {
	switch o {
	case OutcomeNo:
		return "no"
	case OutcomeYes:
		return "yes"
	default:
		return fmt.Sprintf("invalid(%d)", uint32(o))
	}
}

// Oracle is a registered, trusted attestor.
type Oracle struct {
	Address      Address   `json:"address"`
	Name         string    `json:"name"`
	Accuracy     uint32    `json:"accuracy"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Market is the oracle-side view of a market: when it may be attested and
// the running tallies.
type Market struct {
	ID             MarketID  `json:"id"`
	ResolutionTime time.Time `json:"resolution_time"`
	YesCount       uint32    `json:"yes_count"`
	NoCount        uint32    `json:"no_count"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// Attestation is an oracle's immutable vote on a market.
type Attestation struct {
	MarketID     MarketID  `json:"market_id"`
	Oracle       Address   `json:"oracle"`
	Outcome      Outcome   `json:"outcome"`
	EvidenceHash Hash      `json:"evidence_hash"`
	Timestamp    time.Time `json:"timestamp"`
	// Seq orders attestations within a market (voter list order).
	Seq int64 `json:"seq"`
}

// AdminConfig is the single process-wide administrative configuration.
type AdminConfig struct {
	Admin              Address       `json:"admin"`
	RequiredConsensus  uint32        `json:"required_consensus"`
	Signers            []Address     `json:"signers"`
	RequiredSignatures uint32        `json:"required_signatures"`
	OverrideCooldown   time.Duration `json:"override_cooldown"`
	// LastOverrideTime is the zero time.Time when no override has ever
	// happened. An override committed at Unix 0 is a real timestamp and
	// starts the cooldown.
	LastOverrideTime time.Time `json:"last_override_time"`
	InitializedAt    time.Time `json:"initialized_at"`
}

// IsSigner reports whether addr is in the admin signer set.
func (c AdminConfig) IsSigner(addr Address) bool {
	for _, s := range c.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// OverrideRecord documents one emergency override.
type OverrideRecord struct {
	MarketID          MarketID  `json:"market_id"`
	ForcedOutcome     Outcome   `json:"forced_outcome"`
	JustificationHash Hash      `json:"justification_hash"`
	Approvers         []Address `json:"approvers"`
	Timestamp         time.Time `json:"timestamp"`
}

// ConsensusResult is the stored outcome slot of a market. Only the override
// engine writes it.
type ConsensusResult struct {
	MarketID       MarketID  `json:"market_id"`
	Outcome        Outcome   `json:"outcome"`
	ManualOverride bool      `json:"manual_override"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Credential is a caller identity together with the proof that the caller
// controls it for one specific operation.
type Credential struct {
	Identity Address       `json:"identity"`
	Proof    hexutil.Bytes `json:"proof"`
}
