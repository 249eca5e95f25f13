package domain

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error registry namespace for every polyoracle error.
const Codespace = "polyoracle"

// Kind classifies an error so transports can map it without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindNotFound
	KindValidation
	KindStateConflict
	KindTemporal
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindTemporal:
		return "temporal"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Registered errors. Codes are stable wire values; the kinds table below
// decides classification.
var (
	ErrUnauthorized    = errorsmod.Register(Codespace, 2, "caller failed authentication")
	ErrNotAdmin        = errorsmod.Register(Codespace, 3, "caller is not an admin")
	ErrNotRegistered   = errorsmod.Register(Codespace, 4, "oracle not registered")
	ErrInvalidApprover = errorsmod.Register(Codespace, 5, "approver is not an admin signer")
	ErrNotInitialized  = errorsmod.Register(Codespace, 6, "oracle not initialized")

	ErrMarketNotRegistered     = errorsmod.Register(Codespace, 10, "market not registered")
	ErrConsensusResultNotFound = errorsmod.Register(Codespace, 11, "consensus result not found")
	ErrNotFound                = errorsmod.Register(Codespace, 12, "not found")

	ErrInvalidOutcome        = errorsmod.Register(Codespace, 20, "invalid outcome: must be 0 or 1")
	ErrInvalidValue          = errorsmod.Register(Codespace, 21, "invalid value")
	ErrTooShort              = errorsmod.Register(Codespace, 22, "cooldown must be at least 1 hour")
	ErrInsufficientApprovers = errorsmod.Register(Codespace, 23, "insufficient approvers")
	ErrDuplicateApprover     = errorsmod.Register(Codespace, 24, "duplicate approvers detected")

	ErrRegistryFull       = errorsmod.Register(Codespace, 30, "maximum oracle limit reached")
	ErrAlreadyRegistered  = errorsmod.Register(Codespace, 31, "oracle already registered")
	ErrDuplicateVote      = errorsmod.Register(Codespace, 32, "oracle already attested")
	ErrAlreadyAdmin       = errorsmod.Register(Codespace, 33, "admin already exists")
	ErrAlreadyInitialized = errorsmod.Register(Codespace, 34, "oracle already initialized")
	ErrAlreadyExists      = errorsmod.Register(Codespace, 35, "already exists")

	ErrTooEarly       = errorsmod.Register(Codespace, 40, "cannot attest before resolution time")
	ErrCooldownActive = errorsmod.Register(Codespace, 41, "cooldown period not elapsed")

	ErrLockHeld    = errorsmod.Register(Codespace, 50, "lock already held")
	ErrRateLimited = errorsmod.Register(Codespace, 51, "rate limited")
)

// kinds classifies every registered error. Unknown identities and an
// uninitialized system are not-found; capacity is validation.
var kinds = []struct {
	err  *errorsmod.Error
	kind Kind
}{
	{ErrUnauthorized, KindAuthorization},
	{ErrNotAdmin, KindAuthorization},
	{ErrNotRegistered, KindNotFound},
	{ErrInvalidApprover, KindNotFound},
	{ErrNotInitialized, KindNotFound},
	{ErrMarketNotRegistered, KindNotFound},
	{ErrConsensusResultNotFound, KindNotFound},
	{ErrNotFound, KindNotFound},

	{ErrInvalidOutcome, KindValidation},
	{ErrInvalidValue, KindValidation},
	{ErrTooShort, KindValidation},
	{ErrInsufficientApprovers, KindValidation},
	{ErrRegistryFull, KindValidation},

	{ErrDuplicateApprover, KindStateConflict},
	{ErrAlreadyRegistered, KindStateConflict},
	{ErrDuplicateVote, KindStateConflict},
	{ErrAlreadyAdmin, KindStateConflict},
	{ErrAlreadyInitialized, KindStateConflict},
	{ErrAlreadyExists, KindStateConflict},

	{ErrTooEarly, KindTemporal},
	{ErrCooldownActive, KindTemporal},

	{ErrLockHeld, KindUnavailable},
	{ErrRateLimited, KindUnavailable},
}

// KindOf returns the classification of err, or KindInternal when err is not
// one of the registered errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// CodeOf returns the registered code of err. Unregistered errors report the
// registry's internal codespace.
func CodeOf(err error) (codespace string, code uint32) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err.Codespace(), k.err.ABCICode()
		}
	}
	codespace, code, _ = errorsmod.ABCIInfo(err, false)
	return codespace, code
}
