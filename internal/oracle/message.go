package oracle

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// Operation names bound into every canonical message.
const (
	OpInitialize            = "initialize"
	OpRegisterOracle        = "register_oracle"
	OpRegisterMarket        = "register_market"
	OpSubmitAttestation     = "submit_attestation"
	OpAddAdminSigner        = "add_admin_signer"
	OpSetRequiredSignatures = "set_required_signatures"
	OpSetOverrideCooldown   = "set_override_cooldown"
	OpEmergencyOverride     = "emergency_override"
)

const messagePrefix = "polyoracle/v1:"

// Message builds the canonical byte string a credential proof covers: the
// prefix, the operation name and each field on its own line.
func Message(op string, fields ...string) []byte {
	var b strings.Builder
	b.WriteString(messagePrefix)
	b.WriteString(op)
	for _, f := range fields {
		b.WriteByte('\n')
		b.WriteString(f)
	}
	return []byte(b.String())
}

func unixString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func uintString(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}

// InitializeMessage is signed by the admin calling Initialize.
func InitializeMessage(admin domain.Address, requiredConsensus uint32) []byte {
	return Message(OpInitialize, admin.String(), uintString(requiredConsensus))
}

// RegisterOracleMessage is signed by the admin registering an oracle.
func RegisterOracleMessage(oracle domain.Address, name string) []byte {
	return Message(OpRegisterOracle, oracle.String(), name)
}

// RegisterMarketMessage is signed by the admin registering a market.
func RegisterMarketMessage(id domain.MarketID, resolutionTime time.Time) []byte {
	return Message(OpRegisterMarket, id.Hex(), unixString(resolutionTime))
}

// AttestationMessage is signed by the attesting oracle.
func AttestationMessage(id domain.MarketID, outcome domain.Outcome, evidence domain.Hash) []byte {
	return Message(OpSubmitAttestation, id.Hex(), uintString(uint32(outcome)), evidence.Hex())
}

// AddAdminSignerMessage is signed by the admin adding a signer.
func AddAdminSignerMessage(newAdmin domain.Address) []byte {
	return Message(OpAddAdminSigner, newAdmin.String())
}

// RequiredSignaturesMessage is signed by the admin changing the quorum.
func RequiredSignaturesMessage(n uint32) []byte {
	return Message(OpSetRequiredSignatures, uintString(n))
}

// OverrideCooldownMessage is signed by the admin changing the cooldown.
func OverrideCooldownMessage(d time.Duration) []byte {
	return Message(OpSetOverrideCooldown, strconv.FormatInt(int64(d/time.Second), 10))
}

// OverrideMessage is signed by every approver of an emergency override. It
// binds the last override time so an approval set cannot be replayed once
// another override has happened. A zero lastOverride is encoded as "never",
// distinct from an override at Unix 0.
func OverrideMessage(id domain.MarketID, forced domain.Outcome, justification domain.Hash, lastOverride time.Time) []byte {
	last := "never"
	if !lastOverride.IsZero() {
		last = strconv.FormatInt(lastOverride.Unix(), 10)
	}
	return Message(OpEmergencyOverride, id.Hex(), uintString(uint32(forced)), justification.Hex(), last)
}
