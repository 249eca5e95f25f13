package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// serializationFailure is the SQLSTATE PostgreSQL raises when a
// SERIALIZABLE transaction conflicts with a concurrent one.
const serializationFailure = "40001"

const maxTxAttempts = 3

// DB is the part of *pgxpool.Pool the Store needs. pgxmock pools satisfy it.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. Every Atomic call runs in one SERIALIZABLE
// transaction and is retried on serialisation failures.
type Store struct {
	db DB
}

// NewStore creates a Store on db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

func repositories(q querier) domain.Repositories {
	return domain.Repositories{
		Oracles:      &OracleStore{q: q},
		Markets:      &MarketStore{q: q},
		Attestations: &AttestationStore{q: q},
		Admin:        &AdminStore{q: q},
		Overrides:    &OverrideStore{q: q},
		Events:       &EventStore{q: q},
	}
}

// Atomic implements domain.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, true, fn)
		if !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

// View implements domain.Store with a read-only REPEATABLE READ snapshot.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	return s.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) runTx(ctx context.Context, opts pgx.TxOptions, commit bool, fn func(ctx context.Context, r domain.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(ctx, repositories(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if !commit {
		return tx.Rollback(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

var _ domain.Store = (*Store)(nil)
