package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

var (
	serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}
	readOnly     = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	ts           = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestAtomic_InsertOracleCommits(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("INSERT INTO oracles").
		WithArgs("o1", "alpha", int32(100), ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := NewStore(mock).Atomic(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		return r.Oracles.Insert(ctx, domain.Oracle{Address: "o1", Name: "alpha", Accuracy: 100, RegisteredAt: ts})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_ConflictRollsBack(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("INSERT INTO attestations").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err := NewStore(mock).Atomic(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		return r.Attestations.Insert(ctx, domain.Attestation{MarketID: domain.MarketID{1}, Oracle: "o1", Timestamp: ts})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_RetriesSerializationFailure(t *testing.T) {
	mock := newMock(t)
	id := domain.MarketID{9}

	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("UPDATE markets SET yes_count").
		WithArgs(id.Bytes(), int32(1), int32(0)).
		WillReturnError(&pgconn.PgError{Code: serializationFailure})
	mock.ExpectRollback()

	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("UPDATE markets SET yes_count").
		WithArgs(id.Bytes(), int32(1), int32(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := NewStore(mock).Atomic(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		return r.Markets.IncrementTally(ctx, id, domain.OutcomeYes)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_DoesNotRetryOtherErrors(t *testing.T) {
	mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("INSERT INTO oracle_events").WillReturnError(boom)
	mock.ExpectRollback()

	err := NewStore(mock).Atomic(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		return r.Events.Append(ctx, domain.Event{ID: "e1", Type: domain.EventOracleRegistered, Timestamp: ts})
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestView_AdminConfigNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(readOnly)
	mock.ExpectQuery("SELECT admin, required_consensus").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := NewStore(mock).View(context.Background(), func(ctx context.Context, r domain.Repositories) error {
		_, err := r.Admin.Get(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminStore_Get(t *testing.T) {
	mock := newMock(t)
	last := ts.Add(time.Hour)
	mock.ExpectQuery("SELECT admin, required_consensus").
		WillReturnRows(pgxmock.NewRows([]string{
			"admin", "required_consensus", "signers", "required_signatures",
			"override_cooldown_s", "last_override_at", "initialized_at",
		}).AddRow("admin1", int32(3), []string{"admin1", "admin2"}, int32(2), int64(86400), &last, ts))

	cfg, err := (&AdminStore{q: mock}).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AdminConfig{
		Admin:              "admin1",
		RequiredConsensus:  3,
		Signers:            []domain.Address{"admin1", "admin2"},
		RequiredSignatures: 2,
		OverrideCooldown:   24 * time.Hour,
		LastOverrideTime:   last,
		InitializedAt:      ts,
	}, cfg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminStore_PutNeverOverridden(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO admin_config").
		WithArgs("admin1", int32(2), []string{"admin1"}, int32(2), int64(86400), (*time.Time)(nil), ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := (&AdminStore{q: mock}).Put(context.Background(), domain.AdminConfig{
		Admin:              "admin1",
		RequiredConsensus:  2,
		Signers:            []domain.Address{"admin1"},
		RequiredSignatures: 2,
		OverrideCooldown:   24 * time.Hour,
		InitializedAt:      ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttestationStore_List(t *testing.T) {
	mock := newMock(t)
	id := domain.MarketID{0xA}
	evidence := domain.Hash{0xEE}
	mock.ExpectQuery("SELECT oracle, outcome, evidence_hash").
		WithArgs(id.Bytes()).
		WillReturnRows(pgxmock.NewRows([]string{"oracle", "outcome", "evidence_hash", "attested_at", "seq"}).
			AddRow("o1", int16(1), evidence.Bytes(), ts, int64(4)).
			AddRow("o2", int16(0), evidence.Bytes(), ts, int64(7)))

	list, err := (&AttestationStore{q: mock}).List(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.Attestation{
		MarketID: id, Oracle: "o1", Outcome: domain.OutcomeYes,
		EvidenceHash: evidence, Timestamp: ts, Seq: 4,
	}, list[0])
	assert.Equal(t, domain.OutcomeNo, list[1].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketStore_IncrementMissing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE markets").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := (&MarketStore{q: mock}).IncrementTally(context.Background(), domain.MarketID{1}, domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventStore_List(t *testing.T) {
	mock := newMock(t)
	since := ts.Add(-time.Hour)
	mock.ExpectQuery("SELECT seq, id::text, event_type, attributes, created_at FROM oracle_events").
		WithArgs(since, 10).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "id", "event_type", "attributes", "created_at"}).
			AddRow(int64(1), "0b7c3f0e-6c55-4d5f-9a8e-1f5f2c1c9d11", "oracle_registered", []byte(`{"oracle":"o1"}`), ts))

	evs, err := (&EventStore{q: mock}).List(context.Background(), domain.ListOpts{Since: &since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventOracleRegistered, evs[0].Type)
	assert.Equal(t, "o1", evs[0].Attributes["oracle"])
	assert.EqualValues(t, 1, evs[0].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FreshDatabase(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_oracle.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS admin_config").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("001_oracle.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := Migrate(context.Background(), mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AlreadyApplied(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_oracle.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	err := Migrate(context.Background(), mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/oracle?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "oracle"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
