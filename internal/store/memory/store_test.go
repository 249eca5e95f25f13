package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

func TestAtomic_RollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := domain.MarketID{1}

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, r domain.Repositories) error {
		require.NoError(t, r.Markets.Put(ctx, domain.Market{ID: id}))
		return r.Admin.Put(ctx, domain.AdminConfig{Admin: "admin", Signers: []domain.Address{"admin"}})
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, r domain.Repositories) error {
		require.NoError(t, r.Oracles.Insert(ctx, domain.Oracle{Address: "o1"}))
		require.NoError(t, r.Attestations.Insert(ctx, domain.Attestation{MarketID: id, Oracle: "o1", Outcome: domain.OutcomeYes}))
		require.NoError(t, r.Markets.IncrementTally(ctx, id, domain.OutcomeYes))
		cfg, err := r.Admin.Get(ctx)
		require.NoError(t, err)
		cfg.Signers = append(cfg.Signers, "admin2")
		require.NoError(t, r.Admin.Put(ctx, cfg))
		require.NoError(t, r.Overrides.PutResult(ctx, domain.ConsensusResult{MarketID: id, ManualOverride: true}))
		require.NoError(t, r.Overrides.Append(ctx, domain.OverrideRecord{MarketID: id}))
		require.NoError(t, r.Events.Append(ctx, domain.Event{Type: domain.EventEmergencyOverride}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		n, err := r.Oracles.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = r.Attestations.Get(ctx, id, "o1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		voters, err := r.Attestations.Voters(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, voters)

		m, err := r.Markets.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, m.YesCount)

		cfg, err := r.Admin.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.Address{"admin"}, cfg.Signers)

		_, err = r.Overrides.GetResult(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = r.Overrides.Latest(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		events, err := r.Events.List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, events)
		return nil
	}))
}

func TestView_IsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		return r.Oracles.Insert(ctx, domain.Oracle{Address: "o1"})
	})
	assert.Error(t, err)

	require.NoError(t, s.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		n, err := r.Oracles.Count(ctx)
		assert.Zero(t, n)
		return err
	}))
}

func TestAttestations_UniqueAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := domain.MarketID{7}

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, r domain.Repositories) error {
		for _, o := range []domain.Address{"c", "a", "b"} {
			require.NoError(t, r.Attestations.Insert(ctx, domain.Attestation{MarketID: id, Oracle: o}))
		}
		assert.ErrorIs(t, r.Attestations.Insert(ctx, domain.Attestation{MarketID: id, Oracle: "a"}), domain.ErrAlreadyExists)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		voters, err := r.Attestations.Voters(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []domain.Address{"c", "a", "b"}, voters)

		list, err := r.Attestations.List(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.EqualValues(t, 1, list[0].Seq)
		assert.EqualValues(t, 3, list[2].Seq)
		return nil
	}))
}

func TestEvents_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Unix(1000, 0).UTC()

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, r domain.Repositories) error {
		for i := 0; i < 5; i++ {
			require.NoError(t, r.Events.Append(ctx, domain.Event{
				Type:      domain.EventAttestationSubmitted,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, r domain.Repositories) error {
		since := base.Add(time.Minute)
		evs, err := r.Events.List(ctx, domain.ListOpts{Since: &since, Offset: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.EqualValues(t, 3, evs[0].Seq)
		assert.EqualValues(t, 4, evs[1].Seq)

		old, err := r.Events.ListBefore(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Len(t, old, 2)
		return nil
	}))
}

func TestAtomic_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().Atomic(ctx, func(context.Context, domain.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
