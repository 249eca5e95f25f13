package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoracle/internal/crypto"
	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/store/memory"
)

const validProof = "ok"

// allowAuth accepts any credential whose proof is validProof.
type allowAuth struct{}

func (allowAuth) Authenticate(_ context.Context, c domain.Credential, _ []byte) error {
	if string(c.Proof) != validProof {
		return domain.ErrUnauthorized
	}
	return nil
}

func cred(id string) domain.Credential {
	return domain.Credential{Identity: domain.Address(id), Proof: []byte(validProof)}
}

func forged(id string) domain.Credential {
	return domain.Credential{Identity: domain.Address(id), Proof: []byte("nope")}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(sec int64) {
	c.mu.Lock()
	c.now = at(sec)
	c.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *captureSink) Publish(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *captureSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type testingT interface {
	require.TestingT
	Helper()
}

type harness struct {
	engine *Engine
	clock  *fakeClock
	sink   *captureSink
}

func newHarness(t testingT) *harness {
	t.Helper()
	clock := &fakeClock{now: at(0)}
	sink := &captureSink{}
	e, err := NewEngine(Config{
		Store: memory.New(),
		Auth:  allowAuth{},
		Clock: clock,
		Sinks: []domain.EventSink{sink},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return &harness{engine: e, clock: clock, sink: sink}
}

func marketID(n byte) domain.MarketID {
	var id domain.MarketID
	id[31] = n
	return id
}

func oracleName(i int) string { return fmt.Sprintf("oracle%d", i) }

// setup initialises with admin1, registers n oracles and market A resolving
// at resolution.
func setup(t testingT, threshold uint32, n int, resolution int64) *harness {
	t.Helper()
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Initialize(ctx, cred("admin1"), threshold))
	for i := 1; i <= n; i++ {
		require.NoError(t, h.engine.RegisterOracle(ctx, cred("admin1"), domain.Address(oracleName(i)), oracleName(i)))
	}
	require.NoError(t, h.engine.RegisterMarket(ctx, cred("admin1"), marketID(0xA), at(resolution)))
	return h
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewEngine(Config{Auth: allowAuth{}}, logger)
	assert.Error(t, err)
	_, err = NewEngine(Config{Store: memory.New()}, logger)
	assert.Error(t, err)
}

func TestGetters_BeforeInitialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	signers, err := h.engine.GetAdminSigners(ctx)
	require.NoError(t, err)
	assert.Empty(t, signers)

	n, err := h.engine.GetRequiredSignatures(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	cd, err := h.engine.GetOverrideCooldown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cd)

	last, err := h.engine.GetLastOverrideTime(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	reached, outcome, err := h.engine.CheckConsensus(ctx, marketID(1))
	require.NoError(t, err)
	assert.False(t, reached)
	assert.Equal(t, domain.OutcomeNo, outcome)

	_, err = h.engine.AdminConfig(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.ErrorIs(t, h.engine.Initialize(ctx, forged("admin1"), 2), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.Initialize(ctx, cred("admin1"), 0), domain.ErrInvalidValue)
	assert.ErrorIs(t, h.engine.Initialize(ctx, cred("admin1"), domain.MaxOracles+1), domain.ErrInvalidValue)

	h.clock.Set(500)
	require.NoError(t, h.engine.Initialize(ctx, cred("admin1"), 3))

	cfg, err := h.engine.AdminConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Address("admin1"), cfg.Admin)
	assert.EqualValues(t, 3, cfg.RequiredConsensus)
	assert.Equal(t, []domain.Address{"admin1"}, cfg.Signers)
	assert.EqualValues(t, 2, cfg.RequiredSignatures)
	assert.Equal(t, 24*time.Hour, cfg.OverrideCooldown)
	assert.Equal(t, at(500), cfg.InitializedAt)

	assert.ErrorIs(t, h.engine.Initialize(ctx, cred("admin2"), 2), domain.ErrAlreadyInitialized)
	assert.Equal(t, []domain.EventType{domain.EventOracleInitialized}, h.sink.types())
}

func TestRegisterOracle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.engine.RegisterOracle(ctx, cred("admin1"), "o1", "one")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	require.NoError(t, h.engine.Initialize(ctx, cred("admin1"), 2))
	require.NoError(t, h.engine.AddAdminSigner(ctx, cred("admin1"), "admin2"))

	t.Run("only the initial admin", func(t *testing.T) {
		err := h.engine.RegisterOracle(ctx, cred("admin2"), "o1", "one")
		assert.ErrorIs(t, err, domain.ErrNotAdmin)
		err = h.engine.RegisterOracle(ctx, forged("admin1"), "o1", "one")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("registers with default accuracy", func(t *testing.T) {
		h.clock.Set(42)
		require.NoError(t, h.engine.RegisterOracle(ctx, cred("admin1"), "o1", "one"))
		o, err := h.engine.GetOracle(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, domain.Oracle{Address: "o1", Name: "one", Accuracy: 100, RegisteredAt: at(42)}, o)
	})

	t.Run("duplicate", func(t *testing.T) {
		err := h.engine.RegisterOracle(ctx, cred("admin1"), "o1", "again")
		assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
		n, err := h.engine.OracleCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("capacity", func(t *testing.T) {
		for i := 2; i <= domain.MaxOracles; i++ {
			require.NoError(t, h.engine.RegisterOracle(ctx, cred("admin1"), domain.Address(oracleName(i)), ""))
		}
		err := h.engine.RegisterOracle(ctx, cred("admin1"), "o11", "")
		assert.ErrorIs(t, err, domain.ErrRegistryFull)

		list, err := h.engine.ListOracles(ctx)
		require.NoError(t, err)
		assert.Len(t, list, domain.MaxOracles)
		assert.Equal(t, domain.Address("o1"), list[0].Address)
	})

	_, err = h.engine.GetOracle(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotRegistered)
}

func TestRegisterMarket(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 1, 1000)

	rt, ok, err := h.engine.GetResolutionTime(ctx, marketID(0xA))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at(1000), rt)

	_, ok, err = h.engine.GetResolutionTime(ctx, marketID(0xB))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.engine.AddAdminSigner(ctx, cred("admin1"), "admin2"))
	err = h.engine.RegisterMarket(ctx, cred("admin2"), marketID(0xB), at(5))
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	_, err = h.engine.GetMarket(ctx, marketID(0xB))
	assert.ErrorIs(t, err, domain.ErrMarketNotRegistered)
}

func TestSubmitAttestation_CheckOrder(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 2, 1000)
	evidence := domain.Hash{0x01}
	a := marketID(0xA)

	h.clock.Set(999)
	tests := []struct {
		name    string
		cred    domain.Credential
		market  domain.MarketID
		outcome domain.Outcome
		want    error
	}{
		{"forged proof", forged("oracle1"), marketID(0xB), 7, domain.ErrUnauthorized},
		{"unregistered oracle", cred("stranger"), marketID(0xB), 7, domain.ErrNotRegistered},
		{"unregistered market", cred("oracle1"), marketID(0xB), 7, domain.ErrMarketNotRegistered},
		{"before resolution", cred("oracle1"), a, 7, domain.ErrTooEarly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.engine.SubmitAttestation(ctx, tt.cred, tt.market, tt.outcome, evidence)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	h.clock.Set(1000)
	err := h.engine.SubmitAttestation(ctx, cred("oracle1"), a, 7, evidence)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	require.NoError(t, h.engine.SubmitAttestation(ctx, cred("oracle1"), a, domain.OutcomeYes, evidence))
	err = h.engine.SubmitAttestation(ctx, cred("oracle1"), a, domain.OutcomeNo, evidence)
	assert.ErrorIs(t, err, domain.ErrDuplicateVote)

	got, found, err := h.engine.GetAttestation(ctx, a, "oracle1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.OutcomeYes, got.Outcome)
	assert.Equal(t, evidence, got.EvidenceHash)
	assert.Equal(t, at(1000), got.Timestamp)

	_, found, err = h.engine.GetAttestation(ctx, a, "oracle2")
	require.NoError(t, err)
	assert.False(t, found)

	yes, no, err := h.engine.GetAttestationCounts(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, yes)
	assert.EqualValues(t, 0, no)

	yes, no, err = h.engine.GetAttestationCounts(ctx, marketID(0xEE))
	require.NoError(t, err)
	assert.Zero(t, yes)
	assert.Zero(t, no)
}

func vote(t testingT, h *harness, oracle string, id domain.MarketID, o domain.Outcome) {
	t.Helper()
	require.NoError(t, h.engine.SubmitAttestation(context.Background(), cred(oracle), id, o, domain.Hash{}))
}

func TestScenario_TieAtThreshold(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 4, 1000)
	h.clock.Set(1001)
	a := marketID(0xA)

	vote(t, h, "oracle1", a, domain.OutcomeYes)
	vote(t, h, "oracle2", a, domain.OutcomeYes)
	vote(t, h, "oracle3", a, domain.OutcomeNo)
	vote(t, h, "oracle4", a, domain.OutcomeNo)

	reached, outcome, err := h.engine.CheckConsensus(ctx, a)
	require.NoError(t, err)
	assert.False(t, reached)
	assert.Equal(t, domain.OutcomeNo, outcome)
}

func TestScenario_YesReachesThreshold(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 4, 1000)
	h.clock.Set(1001)
	a := marketID(0xA)

	vote(t, h, "oracle1", a, domain.OutcomeYes)

	reached, _, err := h.engine.CheckConsensus(ctx, a)
	require.NoError(t, err)
	assert.False(t, reached)

	vote(t, h, "oracle2", a, domain.OutcomeYes)

	reached, outcome, err := h.engine.CheckConsensus(ctx, a)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, domain.OutcomeYes, outcome)

	// Reaching consensus does not populate the result slot.
	_, err = h.engine.GetConsensusResult(ctx, a)
	assert.ErrorIs(t, err, domain.ErrConsensusResultNotFound)
}

func TestSinks_FailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sink.err = errors.New("sink down")

	require.NoError(t, h.engine.Initialize(ctx, cred("admin1"), 1))
	require.NoError(t, h.engine.RegisterOracle(ctx, cred("admin1"), "o1", ""))

	events, err := h.engine.ListEvents(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOracleInitialized, events[0].Type)
	assert.Equal(t, domain.EventOracleRegistered, events[1].Type)
	assert.EqualValues(t, 1, events[0].Seq)
	assert.EqualValues(t, 2, events[1].Seq)
	assert.NotEmpty(t, events[1].ID)
	assert.Len(t, h.sink.types(), 2)
}

func TestRejectedOperation_EmitsNothing(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 1, 1000)
	before := len(h.sink.types())

	assert.Error(t, h.engine.RegisterOracle(ctx, cred("admin1"), "oracle1", ""))
	assert.Error(t, h.engine.SubmitAttestation(ctx, cred("oracle1"), marketID(0xA), domain.OutcomeYes, domain.Hash{}))

	assert.Len(t, h.sink.types(), before)
	events, err := h.engine.ListEvents(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, events, before)
}

type recordingRecorder struct {
	mu  sync.Mutex
	ops map[string][]error
}

func (r *recordingRecorder) ObserveOperation(op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string][]error)
	}
	r.ops[op] = append(r.ops[op], err)
}

func TestRecorder_ObservesEveryMutation(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	e, err := NewEngine(Config{
		Store:    memory.New(),
		Auth:     allowAuth{},
		Clock:    &fakeClock{},
		Recorder: rec,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, e.Initialize(ctx, cred("admin1"), 1))
	assert.Error(t, e.Initialize(ctx, cred("admin1"), 1))

	require.Len(t, rec.ops[OpInitialize], 2)
	assert.NoError(t, rec.ops[OpInitialize][0])
	assert.ErrorIs(t, rec.ops[OpInitialize][1], domain.ErrAlreadyInitialized)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type countingLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key != writeLockKey {
		return nil, fmt.Errorf("unexpected key %q", key)
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func TestWriteLock(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("held lock times out", func(t *testing.T) {
		e, err := NewEngine(Config{
			Store:    memory.New(),
			Auth:     allowAuth{},
			Lock:     heldLock{},
			LockWait: 60 * time.Millisecond,
		}, logger)
		require.NoError(t, err)
		err = e.Initialize(ctx, cred("admin1"), 1)
		assert.ErrorIs(t, err, domain.ErrLockHeld)
		assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
	})

	t.Run("lock released after commit", func(t *testing.T) {
		lock := &countingLock{}
		e, err := NewEngine(Config{Store: memory.New(), Auth: allowAuth{}, Lock: lock}, logger)
		require.NoError(t, err)
		require.NoError(t, e.Initialize(ctx, cred("admin1"), 1))
		assert.Error(t, e.Initialize(ctx, cred("admin1"), 1))
		assert.Equal(t, 2, lock.acquired)
		assert.Equal(t, 2, lock.released)
	})
}

func TestConcurrentAttestations(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 3, domain.MaxOracles, 0)
	a := marketID(0xA)

	var wg sync.WaitGroup
	errs := make(chan error, domain.MaxOracles*3)
	for i := 1; i <= domain.MaxOracles; i++ {
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- h.engine.SubmitAttestation(ctx, cred(oracleName(i)), a, domain.Outcome(i%2), domain.Hash{})
			}(i)
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrDuplicateVote):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, domain.MaxOracles, ok)
	assert.Equal(t, domain.MaxOracles*2, dup)

	yes, no, err := h.engine.GetAttestationCounts(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, domain.MaxOracles, yes+no)
}

func TestRegisterMarket_ReRegistrationResetsTalliesOnly(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 3, 1000)
	a := marketID(0xA)

	h.clock.Set(1000)
	vote(t, h, "oracle1", a, domain.OutcomeYes)
	vote(t, h, "oracle2", a, domain.OutcomeYes)

	h.clock.Set(1100)
	require.NoError(t, h.engine.RegisterMarket(ctx, cred("admin1"), a, at(1050)))

	m, err := h.engine.GetMarket(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, at(1050), m.ResolutionTime)

	yes, no, err := h.engine.GetAttestationCounts(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, yes)
	assert.Zero(t, no)

	// The ledger survives: old votes are still readable and still block a
	// second vote from the same oracle.
	got, found, err := h.engine.GetAttestation(ctx, a, "oracle1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.OutcomeYes, got.Outcome)
	err = h.engine.SubmitAttestation(ctx, cred("oracle1"), a, domain.OutcomeNo, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrDuplicateVote)

	// Consensus is derived from the voter list, not the reset counters.
	reached, outcome, err := h.engine.CheckConsensus(ctx, a)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, domain.OutcomeYes, outcome)

	vote(t, h, "oracle3", a, domain.OutcomeNo)
	yes, no, err = h.engine.GetAttestationCounts(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 0, yes)
	assert.EqualValues(t, 1, no)

	reached, outcome, err = h.engine.CheckConsensus(ctx, a)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, domain.OutcomeYes, outcome)

	events, err := h.engine.ListEvents(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var registered []domain.Event
	for _, ev := range events {
		if ev.Type == domain.EventMarketRegistered {
			registered = append(registered, ev)
		}
	}
	require.Len(t, registered, 2)
	assert.Equal(t, a.Hex(), registered[1].Attributes["market_id"])
	assert.Equal(t, at(1100), registered[1].Timestamp)
}

func TestEngine_HexIdentityCaseIsIgnored(t *testing.T) {
	ctx := context.Background()
	admin, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	second, err := crypto.NewSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)
	voter, err := crypto.NewSigner("5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a")
	require.NoError(t, err)

	e, err := NewEngine(Config{
		Store: memory.New(),
		Auth:  crypto.NewSignatureAuthenticator(),
		Clock: &fakeClock{now: at(100)},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	lower := func(a domain.Address) domain.Address { return domain.Address(strings.ToLower(string(a))) }
	sign := func(s *crypto.Signer, msg []byte) domain.Credential {
		c, err := s.Credential(msg)
		require.NoError(t, err)
		return c
	}
	// signLower proves control of the same key under the lowercase spelling.
	signLower := func(s *crypto.Signer, msg []byte) domain.Credential {
		c := sign(s, msg)
		c.Identity = lower(c.Identity)
		return c
	}

	require.NoError(t, e.Initialize(ctx, signLower(admin, InitializeMessage(admin.Identity(), 1)), 1))
	cfg, err := e.AdminConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.Identity(), cfg.Admin)

	t.Run("one key holds one signer slot", func(t *testing.T) {
		err := e.AddAdminSigner(ctx, sign(admin, AddAdminSignerMessage(admin.Identity())), lower(admin.Identity()))
		assert.ErrorIs(t, err, domain.ErrAlreadyAdmin)

		require.NoError(t, e.AddAdminSigner(ctx, signLower(admin, AddAdminSignerMessage(second.Identity())), lower(second.Identity())))
		signers, err := e.GetAdminSigners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.Address{admin.Identity(), second.Identity()}, signers)
	})

	a := marketID(0xA)
	require.NoError(t, e.RegisterMarket(ctx, signLower(admin, RegisterMarketMessage(a, at(0))), a, at(0)))

	t.Run("one key is one approver", func(t *testing.T) {
		msg := OverrideMessage(a, domain.OutcomeYes, domain.Hash{}, time.Time{})
		_, err := e.EmergencyOverride(ctx, []domain.Credential{sign(admin, msg), signLower(admin, msg)}, a, domain.OutcomeYes, domain.Hash{})
		assert.ErrorIs(t, err, domain.ErrDuplicateApprover)

		manual, err := e.IsManualOverride(ctx, a)
		require.NoError(t, err)
		assert.False(t, manual)
	})

	t.Run("one key is one oracle", func(t *testing.T) {
		require.NoError(t, e.RegisterOracle(ctx, sign(admin, RegisterOracleMessage(voter.Identity(), "v")), lower(voter.Identity()), "v"))
		err := e.RegisterOracle(ctx, sign(admin, RegisterOracleMessage(voter.Identity(), "v")), voter.Identity(), "v")
		assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

		n, err := e.OracleCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		o, err := e.GetOracle(ctx, lower(voter.Identity()))
		require.NoError(t, err)
		assert.Equal(t, voter.Identity(), o.Address)
	})

	t.Run("one key votes once", func(t *testing.T) {
		msg := AttestationMessage(a, domain.OutcomeYes, domain.Hash{})
		require.NoError(t, e.SubmitAttestation(ctx, sign(voter, msg), a, domain.OutcomeYes, domain.Hash{}))
		err := e.SubmitAttestation(ctx, signLower(voter, msg), a, domain.OutcomeYes, domain.Hash{})
		assert.ErrorIs(t, err, domain.ErrDuplicateVote)

		yes, no, err := e.GetAttestationCounts(ctx, a)
		require.NoError(t, err)
		assert.EqualValues(t, 1, yes)
		assert.EqualValues(t, 0, no)

		_, found, err := e.GetAttestation(ctx, a, lower(voter.Identity()))
		require.NoError(t, err)
		assert.True(t, found)
	})
}
