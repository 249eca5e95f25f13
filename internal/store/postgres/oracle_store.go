package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// OracleStore implements domain.OracleStore.
type OracleStore struct {
	q querier
}

const oracleCols = `address, name, accuracy, registered_at`

func scanOracle(row pgx.Row) (domain.Oracle, error) {
	var (
		o        domain.Oracle
		addr     string
		accuracy int32
	)
	if err := row.Scan(&addr, &o.Name, &accuracy, &o.RegisteredAt); err != nil {
		return domain.Oracle{}, err
	}
	o.Address = domain.Address(addr)
	o.Accuracy = uint32(accuracy)
	o.RegisteredAt = o.RegisteredAt.UTC()
	return o, nil
}

// Get returns the oracle at addr.
func (s *OracleStore) Get(ctx context.Context, addr domain.Address) (domain.Oracle, error) {
	row := s.q.QueryRow(ctx, `SELECT `+oracleCols+` FROM oracles WHERE address = $1`, string(addr))
	o, err := scanOracle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Oracle{}, domain.ErrNotFound
		}
		return domain.Oracle{}, fmt.Errorf("postgres: get oracle %s: %w", addr, err)
	}
	return o, nil
}

// Insert adds o, returning ErrAlreadyExists when the address is taken.
func (s *OracleStore) Insert(ctx context.Context, o domain.Oracle) error {
	const query = `
		INSERT INTO oracles (address, name, accuracy, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING`
	tag, err := s.q.Exec(ctx, query, string(o.Address), o.Name, int32(o.Accuracy), o.RegisteredAt)
	if err != nil {
		return fmt.Errorf("postgres: insert oracle %s: %w", o.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Count returns the number of registered oracles.
func (s *OracleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM oracles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count oracles: %w", err)
	}
	return n, nil
}

// List returns every oracle in registration order.
func (s *OracleStore) List(ctx context.Context) ([]domain.Oracle, error) {
	rows, err := s.q.Query(ctx, `SELECT `+oracleCols+` FROM oracles ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list oracles: %w", err)
	}
	defer rows.Close()

	var out []domain.Oracle
	for rows.Next() {
		o, err := scanOracle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan oracle: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list oracles rows: %w", err)
	}
	return out, nil
}

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	q querier
}

// Get returns the market with the given id.
func (s *MarketStore) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	const query = `
		SELECT resolution_time, yes_count, no_count, registered_at
		FROM markets WHERE id = $1`
	var (
		m        = domain.Market{ID: id}
		yes, no  int32
		resolves time.Time
	)
	err := s.q.QueryRow(ctx, query, id.Bytes()).Scan(&resolves, &yes, &no, &m.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	m.ResolutionTime = resolves.UTC()
	m.RegisteredAt = m.RegisteredAt.UTC()
	m.YesCount, m.NoCount = uint32(yes), uint32(no)
	return m, nil
}

// Put inserts or replaces m, tallies included.
func (s *MarketStore) Put(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, resolution_time, yes_count, no_count, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			resolution_time = EXCLUDED.resolution_time,
			yes_count       = EXCLUDED.yes_count,
			no_count        = EXCLUDED.no_count,
			registered_at   = EXCLUDED.registered_at`
	_, err := s.q.Exec(ctx, query, m.ID.Bytes(), m.ResolutionTime, int32(m.YesCount), int32(m.NoCount), m.RegisteredAt)
	if err != nil {
		return fmt.Errorf("postgres: put market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

// IncrementTally adds one vote for outcome to the market's running tally.
func (s *MarketStore) IncrementTally(ctx context.Context, id domain.MarketID, outcome domain.Outcome) error {
	var yes, no int32
	if outcome == domain.OutcomeYes {
		yes = 1
	} else {
		no = 1
	}
	const query = `
		UPDATE markets SET yes_count = yes_count + $2, no_count = no_count + $3
		WHERE id = $1`
	tag, err := s.q.Exec(ctx, query, id.Bytes(), yes, no)
	if err != nil {
		return fmt.Errorf("postgres: increment tally %s: %w", id.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var (
	_ domain.OracleStore = (*OracleStore)(nil)
	_ domain.MarketStore = (*MarketStore)(nil)
)
