package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// AttestationStore implements domain.AttestationStore. The (market_id,
// oracle) primary key enforces one vote per oracle per market.
type AttestationStore struct {
	q querier
}

const attestationCols = `oracle, outcome, evidence_hash, attested_at, seq`

func scanAttestation(row pgx.Row, id domain.MarketID) (domain.Attestation, error) {
	var (
		a        = domain.Attestation{MarketID: id}
		oracle   string
		outcome  int16
		evidence []byte
	)
	if err := row.Scan(&oracle, &outcome, &evidence, &a.Timestamp, &a.Seq); err != nil {
		return domain.Attestation{}, err
	}
	a.Oracle = domain.Address(oracle)
	a.Outcome = domain.Outcome(outcome)
	a.EvidenceHash = common.BytesToHash(evidence)
	a.Timestamp = a.Timestamp.UTC()
	return a, nil
}

// Get returns the attestation of oracle on id.
func (s *AttestationStore) Get(ctx context.Context, id domain.MarketID, oracle domain.Address) (domain.Attestation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+attestationCols+` FROM attestations WHERE market_id = $1 AND oracle = $2`,
		id.Bytes(), string(oracle))
	a, err := scanAttestation(row, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attestation{}, domain.ErrNotFound
		}
		return domain.Attestation{}, fmt.Errorf("postgres: get attestation %s/%s: %w", id.Hex(), oracle, err)
	}
	return a, nil
}

// Insert records a, returning ErrAlreadyExists when the pair already voted.
func (s *AttestationStore) Insert(ctx context.Context, a domain.Attestation) error {
	const query = `
		INSERT INTO attestations (market_id, oracle, outcome, evidence_hash, attested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, oracle) DO NOTHING`
	tag, err := s.q.Exec(ctx, query,
		a.MarketID.Bytes(), string(a.Oracle), int16(a.Outcome), a.EvidenceHash.Bytes(), a.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert attestation %s/%s: %w", a.MarketID.Hex(), a.Oracle, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Voters returns the oracles that voted on id in submission order.
func (s *AttestationStore) Voters(ctx context.Context, id domain.MarketID) ([]domain.Address, error) {
	rows, err := s.q.Query(ctx,
		`SELECT oracle FROM attestations WHERE market_id = $1 ORDER BY seq`, id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list voters %s: %w", id.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Address
	for rows.Next() {
		var oracle string
		if err := rows.Scan(&oracle); err != nil {
			return nil, fmt.Errorf("postgres: scan voter: %w", err)
		}
		out = append(out, domain.Address(oracle))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list voters rows: %w", err)
	}
	return out, nil
}

// List returns every attestation on id in submission order.
func (s *AttestationStore) List(ctx context.Context, id domain.MarketID) ([]domain.Attestation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+attestationCols+` FROM attestations WHERE market_id = $1 ORDER BY seq`, id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list attestations %s: %w", id.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Attestation
	for rows.Next() {
		a, err := scanAttestation(rows, id)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attestation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attestations rows: %w", err)
	}
	return out, nil
}

var _ domain.AttestationStore = (*AttestationStore)(nil)
