// Package memory implements domain.Store in process memory. It is used by
// tests and by deployments that run without PostgreSQL.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type attKey struct {
	market domain.MarketID
	oracle domain.Address
}

// Store holds every table in maps guarded by one RWMutex. Atomic holds the
// write lock for the whole transaction and undoes its writes on error.
type Store struct {
	mu sync.RWMutex

	oracles     map[domain.Address]domain.Oracle
	oracleOrder []domain.Address
	markets     map[domain.MarketID]domain.Market
	attests     map[attKey]domain.Attestation
	voters      map[domain.MarketID][]domain.Address
	admin       *domain.AdminConfig
	results     map[domain.MarketID]domain.ConsensusResult
	overrides   map[domain.MarketID][]domain.OverrideRecord
	events      []domain.Event
	attestSeq   int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		oracles:   make(map[domain.Address]domain.Oracle),
		markets:   make(map[domain.MarketID]domain.Market),
		attests:   make(map[attKey]domain.Attestation),
		voters:    make(map[domain.MarketID][]domain.Address),
		results:   make(map[domain.MarketID]domain.ConsensusResult),
		overrides: make(map[domain.MarketID][]domain.OverrideRecord),
	}
}

// tx is one transaction. undo holds inverse operations in write order.
type tx struct {
	s        *Store
	readOnly bool
	undo     []func()
}

func (t *tx) write(undo func()) error {
	if t.readOnly {
		return errReadOnly
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) repos() domain.Repositories {
	return domain.Repositories{
		Oracles:      oracleRepo{t},
		Markets:      marketRepo{t},
		Attestations: attestationRepo{t},
		Admin:        adminRepo{t},
		Overrides:    overrideRepo{t},
		Events:       eventRepo{t},
	}
}

// Atomic implements domain.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(ctx, t.repos()); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// View implements domain.Store.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &tx{s: s, readOnly: true}
	return fn(ctx, t.repos())
}

// ---------------------------------------------------------------------------
// oracles
// ---------------------------------------------------------------------------

type oracleRepo struct{ t *tx }

func (r oracleRepo) Get(_ context.Context, addr domain.Address) (domain.Oracle, error) {
	o, ok := r.t.s.oracles[addr]
	if !ok {
		return domain.Oracle{}, domain.ErrNotFound
	}
	return o, nil
}

func (r oracleRepo) Insert(_ context.Context, o domain.Oracle) error {
	s := r.t.s
	if _, ok := s.oracles[o.Address]; ok {
		return domain.ErrAlreadyExists
	}
	n := len(s.oracleOrder)
	if err := r.t.write(func() {
		delete(s.oracles, o.Address)
		s.oracleOrder = s.oracleOrder[:n]
	}); err != nil {
		return err
	}
	s.oracles[o.Address] = o
	s.oracleOrder = append(s.oracleOrder, o.Address)
	return nil
}

func (r oracleRepo) Count(context.Context) (int, error) {
	return len(r.t.s.oracles), nil
}

func (r oracleRepo) List(context.Context) ([]domain.Oracle, error) {
	s := r.t.s
	out := make([]domain.Oracle, 0, len(s.oracleOrder))
	for _, a := range s.oracleOrder {
		out = append(out, s.oracles[a])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// markets
// ---------------------------------------------------------------------------

type marketRepo struct{ t *tx }

func (r marketRepo) Get(_ context.Context, id domain.MarketID) (domain.Market, error) {
	m, ok := r.t.s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (r marketRepo) Put(_ context.Context, m domain.Market) error {
	s := r.t.s
	prev, existed := s.markets[m.ID]
	if err := r.t.write(func() {
		if existed {
			s.markets[m.ID] = prev
		} else {
			delete(s.markets, m.ID)
		}
	}); err != nil {
		return err
	}
	s.markets[m.ID] = m
	return nil
}

func (r marketRepo) IncrementTally(_ context.Context, id domain.MarketID, outcome domain.Outcome) error {
	s := r.t.s
	prev, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := r.t.write(func() { s.markets[id] = prev }); err != nil {
		return err
	}
	m := prev
	if outcome == domain.OutcomeYes {
		m.YesCount++
	} else {
		m.NoCount++
	}
	s.markets[id] = m
	return nil
}

// ---------------------------------------------------------------------------
// attestations
// ---------------------------------------------------------------------------

type attestationRepo struct{ t *tx }

func (r attestationRepo) Get(_ context.Context, id domain.MarketID, oracle domain.Address) (domain.Attestation, error) {
	a, ok := r.t.s.attests[attKey{id, oracle}]
	if !ok {
		return domain.Attestation{}, domain.ErrNotFound
	}
	return a, nil
}

func (r attestationRepo) Insert(_ context.Context, a domain.Attestation) error {
	s := r.t.s
	k := attKey{a.MarketID, a.Oracle}
	if _, ok := s.attests[k]; ok {
		return domain.ErrAlreadyExists
	}
	prevVoters := s.voters[a.MarketID]
	prevSeq := s.attestSeq
	if err := r.t.write(func() {
		delete(s.attests, k)
		if prevVoters == nil {
			delete(s.voters, a.MarketID)
		} else {
			s.voters[a.MarketID] = prevVoters
		}
		s.attestSeq = prevSeq
	}); err != nil {
		return err
	}
	s.attestSeq++
	a.Seq = s.attestSeq
	s.attests[k] = a
	s.voters[a.MarketID] = append(prevVoters[:len(prevVoters):len(prevVoters)], a.Oracle)
	return nil
}

func (r attestationRepo) Voters(_ context.Context, id domain.MarketID) ([]domain.Address, error) {
	return append([]domain.Address(nil), r.t.s.voters[id]...), nil
}

func (r attestationRepo) List(_ context.Context, id domain.MarketID) ([]domain.Attestation, error) {
	s := r.t.s
	voters := s.voters[id]
	out := make([]domain.Attestation, 0, len(voters))
	for _, v := range voters {
		out = append(out, s.attests[attKey{id, v}])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// admin
// ---------------------------------------------------------------------------

type adminRepo struct{ t *tx }

func (r adminRepo) Get(context.Context) (domain.AdminConfig, error) {
	if r.t.s.admin == nil {
		return domain.AdminConfig{}, domain.ErrNotFound
	}
	cfg := *r.t.s.admin
	cfg.Signers = append([]domain.Address(nil), cfg.Signers...)
	return cfg, nil
}

func (r adminRepo) Put(_ context.Context, cfg domain.AdminConfig) error {
	s := r.t.s
	prev := s.admin
	if err := r.t.write(func() { s.admin = prev }); err != nil {
		return err
	}
	cfg.Signers = append([]domain.Address(nil), cfg.Signers...)
	s.admin = &cfg
	return nil
}

// ---------------------------------------------------------------------------
// overrides
// ---------------------------------------------------------------------------

type overrideRepo struct{ t *tx }

func (r overrideRepo) GetResult(_ context.Context, id domain.MarketID) (domain.ConsensusResult, error) {
	res, ok := r.t.s.results[id]
	if !ok {
		return domain.ConsensusResult{}, domain.ErrNotFound
	}
	return res, nil
}

func (r overrideRepo) PutResult(_ context.Context, res domain.ConsensusResult) error {
	s := r.t.s
	prev, existed := s.results[res.MarketID]
	if err := r.t.write(func() {
		if existed {
			s.results[res.MarketID] = prev
		} else {
			delete(s.results, res.MarketID)
		}
	}); err != nil {
		return err
	}
	s.results[res.MarketID] = res
	return nil
}

func (r overrideRepo) Append(_ context.Context, rec domain.OverrideRecord) error {
	s := r.t.s
	prev := s.overrides[rec.MarketID]
	if err := r.t.write(func() {
		if prev == nil {
			delete(s.overrides, rec.MarketID)
		} else {
			s.overrides[rec.MarketID] = prev
		}
	}); err != nil {
		return err
	}
	rec.Approvers = append([]domain.Address(nil), rec.Approvers...)
	s.overrides[rec.MarketID] = append(prev[:len(prev):len(prev)], rec)
	return nil
}

func (r overrideRepo) Latest(_ context.Context, id domain.MarketID) (domain.OverrideRecord, error) {
	recs := r.t.s.overrides[id]
	if len(recs) == 0 {
		return domain.OverrideRecord{}, domain.ErrNotFound
	}
	return recs[len(recs)-1], nil
}

func (r overrideRepo) History(_ context.Context, id domain.MarketID) ([]domain.OverrideRecord, error) {
	return append([]domain.OverrideRecord(nil), r.t.s.overrides[id]...), nil
}

// ---------------------------------------------------------------------------
// events
// ---------------------------------------------------------------------------

type eventRepo struct{ t *tx }

func (r eventRepo) Append(_ context.Context, ev domain.Event) error {
	s := r.t.s
	n := len(s.events)
	if err := r.t.write(func() { s.events = s.events[:n] }); err != nil {
		return err
	}
	ev.Seq = int64(n + 1)
	s.events = append(s.events, ev)
	return nil
}

func (r eventRepo) List(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range r.t.s.events {
		if opts.Since != nil && ev.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r eventRepo) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range r.t.s.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

var _ domain.Store = (*Store)(nil)
