package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OracleStore persists the oracle registry. Get returns ErrNotFound for an
// unknown address and Insert returns ErrAlreadyExists for a known one.
type OracleStore interface {
	Get(ctx context.Context, addr Address) (Oracle, error)
	Insert(ctx context.Context, o Oracle) error
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Oracle, error)
}

// MarketStore persists market registrations and tallies.
type MarketStore interface {
	Get(ctx context.Context, id MarketID) (Market, error)
	// Put inserts or replaces the market row, tallies included.
	Put(ctx context.Context, m Market) error
	IncrementTally(ctx context.Context, id MarketID, outcome Outcome) error
}

// AttestationStore persists attestations. Insert returns ErrAlreadyExists
// when the (market, oracle) pair already has one.
type AttestationStore interface {
	Get(ctx context.Context, id MarketID, oracle Address) (Attestation, error)
	Insert(ctx context.Context, a Attestation) error
	// Voters returns the oracles that attested on id in submission order.
	Voters(ctx context.Context, id MarketID) ([]Address, error)
	List(ctx context.Context, id MarketID) ([]Attestation, error)
}

// AdminStore persists the single AdminConfig row. Get returns ErrNotFound
// before initialisation.
type AdminStore interface {
	Get(ctx context.Context) (AdminConfig, error)
	Put(ctx context.Context, cfg AdminConfig) error
}

// OverrideStore persists consensus results and the override history.
type OverrideStore interface {
	GetResult(ctx context.Context, id MarketID) (ConsensusResult, error)
	PutResult(ctx context.Context, r ConsensusResult) error
	Append(ctx context.Context, rec OverrideRecord) error
	Latest(ctx context.Context, id MarketID) (OverrideRecord, error)
	History(ctx context.Context, id MarketID) ([]OverrideRecord, error)
}

// EventLog is the append-only audit log of committed state changes.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// Repositories bundles the stores visible inside one transaction.
type Repositories struct {
	Oracles      OracleStore
	Markets      MarketStore
	Attestations AttestationStore
	Admin        AdminStore
	Overrides    OverrideStore
	Events       EventLog
}

// Store runs functions against the repositories with all-or-nothing
// semantics. If fn returns an error from Atomic, none of its writes are
// visible afterwards. View runs fn read-only.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	View(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
}
