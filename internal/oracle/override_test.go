package oracle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoracle/internal/crypto"
	"github.com/alanyoungcy/polyoracle/internal/domain"
	"github.com/alanyoungcy/polyoracle/internal/store/memory"
)

// twoAdmins initialises with admin1, adds admin2 and registers markets A
// and B.
func twoAdmins(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := setup(t, 2, 0, 0)
	require.NoError(t, h.engine.AddAdminSigner(ctx, cred("admin1"), "admin2"))
	require.NoError(t, h.engine.RegisterMarket(ctx, cred("admin1"), marketID(0xB), at(0)))
	return h
}

func approvers(ids ...string) []domain.Credential {
	out := make([]domain.Credential, len(ids))
	for i, id := range ids {
		out[i] = cred(id)
	}
	return out
}

func TestScenario_OverrideAndGlobalCooldown(t *testing.T) {
	ctx := context.Background()
	h := twoAdmins(t)
	justification := domain.Hash{0xCA, 0xFE}

	signers, err := h.engine.GetAdminSigners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{"admin1", "admin2"}, signers)

	h.clock.Set(2000)
	stored, err := h.engine.EmergencyOverride(ctx, approvers("admin1", "admin2"), marketID(0xA), domain.OutcomeNo, justification)
	require.NoError(t, err)

	out, err := h.engine.GetConsensusResult(ctx, marketID(0xA))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, out)
	manual, err := h.engine.IsManualOverride(ctx, marketID(0xA))
	require.NoError(t, err)
	assert.True(t, manual)

	rec, found, err := h.engine.GetOverrideRecord(ctx, marketID(0xA))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.OverrideRecord{
		MarketID:          marketID(0xA),
		ForcedOutcome:     domain.OutcomeNo,
		JustificationHash: justification,
		Approvers:         []domain.Address{"admin1", "admin2"},
		Timestamp:         at(2000),
	}, rec)
	assert.Equal(t, rec, stored)

	last, err := h.engine.GetLastOverrideTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, at(2000), last)

	// The cooldown is global: market B is blocked by the override on A.
	h.clock.Set(3800)
	_, err = h.engine.EmergencyOverride(ctx, approvers("admin1", "admin2"), marketID(0xB), domain.OutcomeYes, justification)
	assert.ErrorIs(t, err, domain.ErrCooldownActive)

	h.clock.Set(2000 + 86400 - 1)
	_, err = h.engine.EmergencyOverride(ctx, approvers("admin1", "admin2"), marketID(0xB), domain.OutcomeYes, justification)
	assert.ErrorIs(t, err, domain.ErrCooldownActive)

	h.clock.Set(2000 + 86400)
	_, err = h.engine.EmergencyOverride(ctx, approvers("admin1", "admin2"), marketID(0xB), domain.OutcomeYes, justification)
	require.NoError(t, err)

	out, err = h.engine.GetConsensusResult(ctx, marketID(0xB))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, out)

	assert.Contains(t, h.sink.types(), domain.EventEmergencyOverride)
}

func TestEmergencyOverride_RejectionsHaveNoSideEffects(t *testing.T) {
	ctx := context.Background()
	h := twoAdmins(t)
	h.clock.Set(5000)
	a := marketID(0xA)

	tests := []struct {
		name      string
		approvers []domain.Credential
		market    domain.MarketID
		outcome   domain.Outcome
		want      error
	}{
		{"invalid outcome", approvers("admin1", "admin2"), a, 2, domain.ErrInvalidOutcome},
		{"too few approvers", approvers("admin1"), a, domain.OutcomeYes, domain.ErrInsufficientApprovers},
		{"non-signer approver", approvers("admin1", "mallory"), a, domain.OutcomeYes, domain.ErrInvalidApprover},
		{"forged approver", []domain.Credential{cred("admin1"), forged("admin2")}, a, domain.OutcomeYes, domain.ErrUnauthorized},
		{"duplicate approver", approvers("admin1", "admin1"), a, domain.OutcomeYes, domain.ErrDuplicateApprover},
		{"unregistered market", approvers("admin1", "admin2"), marketID(0xEE), domain.OutcomeYes, domain.ErrMarketNotRegistered},
	}
	before := len(h.sink.types())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := h.engine.EmergencyOverride(ctx, tt.approvers, tt.market, tt.outcome, domain.Hash{})
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, rec)

			manual, err := h.engine.IsManualOverride(ctx, tt.market)
			require.NoError(t, err)
			assert.False(t, manual)
			_, err = h.engine.GetConsensusResult(ctx, tt.market)
			assert.ErrorIs(t, err, domain.ErrConsensusResultNotFound)
			last, err := h.engine.GetLastOverrideTime(ctx)
			require.NoError(t, err)
			assert.True(t, last.IsZero())
			assert.Len(t, h.sink.types(), before)
		})
	}
}

func TestEmergencyOverride_NotInitialized(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.EmergencyOverride(context.Background(), approvers("a", "b"), marketID(1), domain.OutcomeYes, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestEmergencyOverride_OverwritesAndFlagIsPermanent(t *testing.T) {
	ctx := context.Background()
	h := twoAdmins(t)
	a := marketID(0xA)

	require.NoError(t, h.engine.SetOverrideCooldown(ctx, cred("admin1"), time.Hour))

	h.clock.Set(10_000)
	_, err := h.engine.EmergencyOverride(ctx, approvers("admin1", "admin2"), a, domain.OutcomeYes, domain.Hash{1})
	require.NoError(t, err)
	h.clock.Set(10_000 + 3600)
	_, err = h.engine.EmergencyOverride(ctx, approvers("admin2", "admin1"), a, domain.OutcomeNo, domain.Hash{2})
	require.NoError(t, err)

	out, err := h.engine.GetConsensusResult(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, out)

	manual, err := h.engine.IsManualOverride(ctx, a)
	require.NoError(t, err)
	assert.True(t, manual)

	rec, _, err := h.engine.GetOverrideRecord(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.Hash{2}, rec.JustificationHash)
	assert.Equal(t, []domain.Address{"admin2", "admin1"}, rec.Approvers)

	history, err := h.engine.ListOverrideRecords(ctx, a)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.OutcomeYes, history[0].ForcedOutcome)
}

func TestEmergencyOverride_SingleSignerQuorum(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 0, 0)

	err := h.engine.SetRequiredSignatures(ctx, cred("admin1"), 2)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	require.NoError(t, h.engine.SetRequiredSignatures(ctx, cred("admin1"), 1))
	_, err = h.engine.EmergencyOverride(ctx, approvers("admin1"), marketID(0xA), domain.OutcomeYes, domain.Hash{})
	require.NoError(t, err)
}

func TestEmergencyOverride_SignedApprovalsCannotBeReplayed(t *testing.T) {
	ctx := context.Background()
	admin1, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	admin2, err := crypto.NewSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	clock := &fakeClock{now: at(100)}
	e, err := NewEngine(Config{
		Store: memory.New(),
		Auth:  crypto.NewSignatureAuthenticator(),
		Clock: clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	sign := func(s *crypto.Signer, msg []byte) domain.Credential {
		c, err := s.Credential(msg)
		require.NoError(t, err)
		return c
	}

	require.NoError(t, e.Initialize(ctx, sign(admin1, InitializeMessage(admin1.Identity(), 1)), 1))
	require.NoError(t, e.AddAdminSigner(ctx, sign(admin1, AddAdminSignerMessage(admin2.Identity())), admin2.Identity()))
	require.NoError(t, e.SetOverrideCooldown(ctx, sign(admin1, OverrideCooldownMessage(time.Hour)), time.Hour))
	a := marketID(0xA)
	require.NoError(t, e.RegisterMarket(ctx, sign(admin1, RegisterMarketMessage(a, at(0))), a, at(0)))

	msg := OverrideMessage(a, domain.OutcomeYes, domain.Hash{}, time.Time{})
	approvals := []domain.Credential{sign(admin1, msg), sign(admin2, msg)}
	_, err = e.EmergencyOverride(ctx, approvals, a, domain.OutcomeYes, domain.Hash{})
	require.NoError(t, err)

	clock.Set(100 + 7200)
	_, err = e.EmergencyOverride(ctx, approvals, a, domain.OutcomeYes, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// A signature over a different outcome is rejected too.
	wrong := OverrideMessage(a, domain.OutcomeNo, domain.Hash{}, at(100))
	_, err = e.EmergencyOverride(ctx, []domain.Credential{sign(admin1, wrong), sign(admin2, wrong)}, a, domain.OutcomeYes, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	fresh := OverrideMessage(a, domain.OutcomeYes, domain.Hash{}, at(100))
	_, err = e.EmergencyOverride(ctx, []domain.Credential{sign(admin2, fresh), sign(admin1, fresh)}, a, domain.OutcomeYes, domain.Hash{})
	require.NoError(t, err)
}

func TestEmergencyOverride_AtUnixZeroStartsCooldown(t *testing.T) {
	ctx := context.Background()
	admin1, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	admin2, err := crypto.NewSigner("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	clock := &fakeClock{now: at(0)}
	e, err := NewEngine(Config{
		Store: memory.New(),
		Auth:  crypto.NewSignatureAuthenticator(),
		Clock: clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	sign := func(s *crypto.Signer, msg []byte) domain.Credential {
		c, err := s.Credential(msg)
		require.NoError(t, err)
		return c
	}
	require.NoError(t, e.Initialize(ctx, sign(admin1, InitializeMessage(admin1.Identity(), 1)), 1))
	require.NoError(t, e.AddAdminSigner(ctx, sign(admin1, AddAdminSignerMessage(admin2.Identity())), admin2.Identity()))
	require.NoError(t, e.SetOverrideCooldown(ctx, sign(admin1, OverrideCooldownMessage(time.Hour)), time.Hour))
	a := marketID(0xA)
	require.NoError(t, e.RegisterMarket(ctx, sign(admin1, RegisterMarketMessage(a, at(0))), a, at(0)))

	first := OverrideMessage(a, domain.OutcomeYes, domain.Hash{}, time.Time{})
	approvals := []domain.Credential{sign(admin1, first), sign(admin2, first)}
	rec, err := e.EmergencyOverride(ctx, approvals, a, domain.OutcomeYes, domain.Hash{})
	require.NoError(t, err)
	assert.Equal(t, at(0), rec.Timestamp)

	last, err := e.GetLastOverrideTime(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
	assert.Equal(t, at(0), last)

	afterZero := OverrideMessage(a, domain.OutcomeNo, domain.Hash{}, at(0))
	assert.NotEqual(t, OverrideMessage(a, domain.OutcomeNo, domain.Hash{}, time.Time{}), afterZero)
	fresh := []domain.Credential{sign(admin1, afterZero), sign(admin2, afterZero)}

	clock.Set(1800)
	_, err = e.EmergencyOverride(ctx, fresh, a, domain.OutcomeNo, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrCooldownActive)

	clock.Set(3600)
	_, err = e.EmergencyOverride(ctx, approvals, a, domain.OutcomeYes, domain.Hash{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	rec, err = e.EmergencyOverride(ctx, fresh, a, domain.OutcomeNo, domain.Hash{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, rec.ForcedOutcome)
	assert.Equal(t, at(3600), rec.Timestamp)
}

func TestAdminSignerManagement(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 0, 0)

	assert.ErrorIs(t, h.engine.AddAdminSigner(ctx, cred("mallory"), "mallory2"), domain.ErrNotAdmin)
	assert.ErrorIs(t, h.engine.AddAdminSigner(ctx, forged("admin1"), "admin2"), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.AddAdminSigner(ctx, cred("admin1"), "admin1"), domain.ErrAlreadyAdmin)
	assert.ErrorIs(t, h.engine.AddAdminSigner(ctx, cred("admin1"), ""), domain.ErrInvalidValue)

	require.NoError(t, h.engine.AddAdminSigner(ctx, cred("admin1"), "admin2"))
	// Any signer may add further signers.
	require.NoError(t, h.engine.AddAdminSigner(ctx, cred("admin2"), "admin3"))
	require.NoError(t, h.engine.SetRequiredSignatures(ctx, cred("admin3"), 3))

	n, err := h.engine.GetRequiredSignatures(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.ErrorIs(t, h.engine.SetRequiredSignatures(ctx, cred("admin1"), 0), domain.ErrInvalidValue)
	assert.ErrorIs(t, h.engine.SetRequiredSignatures(ctx, cred("admin1"), 4), domain.ErrInvalidValue)
	assert.ErrorIs(t, h.engine.SetRequiredSignatures(ctx, cred("mallory"), 1), domain.ErrNotAdmin)
}

func TestSetOverrideCooldown(t *testing.T) {
	ctx := context.Background()
	h := setup(t, 2, 0, 0)

	err := h.engine.SetOverrideCooldown(ctx, cred("admin1"), time.Hour-time.Second)
	assert.ErrorIs(t, err, domain.ErrTooShort)
	assert.ErrorIs(t, h.engine.SetOverrideCooldown(ctx, cred("mallory"), 2*time.Hour), domain.ErrNotAdmin)

	require.NoError(t, h.engine.SetOverrideCooldown(ctx, cred("admin1"), time.Hour))
	cd, err := h.engine.GetOverrideCooldown(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cd)
}
