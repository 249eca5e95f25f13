package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// AdminStore implements domain.AdminStore on the single-row admin_config
// table.
type AdminStore struct {
	q querier
}

// Get returns the admin configuration, or ErrNotFound before Initialize.
func (s *AdminStore) Get(ctx context.Context) (domain.AdminConfig, error) {
	const query = `
		SELECT admin, required_consensus, signers, required_signatures,
		       override_cooldown_s, last_override_at, initialized_at
		FROM admin_config WHERE id = 1`
	var (
		cfg          domain.AdminConfig
		admin        string
		consensus    int32
		signers      []string
		required     int32
		cooldownSecs int64
		lastOverride *time.Time
	)
	err := s.q.QueryRow(ctx, query).Scan(
		&admin, &consensus, &signers, &required,
		&cooldownSecs, &lastOverride, &cfg.InitializedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AdminConfig{}, domain.ErrNotFound
		}
		return domain.AdminConfig{}, fmt.Errorf("postgres: get admin config: %w", err)
	}

	cfg.Admin = domain.Address(admin)
	cfg.RequiredConsensus = uint32(consensus)
	cfg.Signers = make([]domain.Address, len(signers))
	for i, s := range signers {
		cfg.Signers[i] = domain.Address(s)
	}
	cfg.RequiredSignatures = uint32(required)
	cfg.OverrideCooldown = time.Duration(cooldownSecs) * time.Second
	if lastOverride != nil {
		cfg.LastOverrideTime = lastOverride.UTC()
	}
	cfg.InitializedAt = cfg.InitializedAt.UTC()
	return cfg, nil
}

// Put writes the admin configuration.
func (s *AdminStore) Put(ctx context.Context, cfg domain.AdminConfig) error {
	const query = `
		INSERT INTO admin_config (
			id, admin, required_consensus, signers, required_signatures,
			override_cooldown_s, last_override_at, initialized_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			admin               = EXCLUDED.admin,
			required_consensus  = EXCLUDED.required_consensus,
			signers             = EXCLUDED.signers,
			required_signatures = EXCLUDED.required_signatures,
			override_cooldown_s = EXCLUDED.override_cooldown_s,
			last_override_at    = EXCLUDED.last_override_at`

	var lastOverride *time.Time
	if !cfg.LastOverrideTime.IsZero() {
		t := cfg.LastOverrideTime
		lastOverride = &t
	}
	_, err := s.q.Exec(ctx, query,
		string(cfg.Admin), int32(cfg.RequiredConsensus), addressStrings(cfg.Signers),
		int32(cfg.RequiredSignatures), int64(cfg.OverrideCooldown/time.Second),
		lastOverride, cfg.InitializedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put admin config: %w", err)
	}
	return nil
}

// OverrideStore implements domain.OverrideStore.
type OverrideStore struct {
	q querier
}

// GetResult returns the stored consensus result of id.
func (s *OverrideStore) GetResult(ctx context.Context, id domain.MarketID) (domain.ConsensusResult, error) {
	const query = `
		SELECT outcome, manual_override, updated_at
		FROM consensus_results WHERE market_id = $1`
	var (
		res     = domain.ConsensusResult{MarketID: id}
		outcome int16
	)
	err := s.q.QueryRow(ctx, query, id.Bytes()).Scan(&outcome, &res.ManualOverride, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConsensusResult{}, domain.ErrNotFound
		}
		return domain.ConsensusResult{}, fmt.Errorf("postgres: get consensus result %s: %w", id.Hex(), err)
	}
	res.Outcome = domain.Outcome(outcome)
	res.UpdatedAt = res.UpdatedAt.UTC()
	return res, nil
}

// PutResult inserts or replaces the consensus result.
func (s *OverrideStore) PutResult(ctx context.Context, r domain.ConsensusResult) error {
	const query = `
		INSERT INTO consensus_results (market_id, outcome, manual_override, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id) DO UPDATE SET
			outcome         = EXCLUDED.outcome,
			manual_override = EXCLUDED.manual_override,
			updated_at      = EXCLUDED.updated_at`
	_, err := s.q.Exec(ctx, query, r.MarketID.Bytes(), int16(r.Outcome), r.ManualOverride, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put consensus result %s: %w", r.MarketID.Hex(), err)
	}
	return nil
}

// Append records an override.
func (s *OverrideStore) Append(ctx context.Context, rec domain.OverrideRecord) error {
	const query = `
		INSERT INTO override_records (market_id, forced_outcome, justification_hash, approvers, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.q.Exec(ctx, query,
		rec.MarketID.Bytes(), int16(rec.ForcedOutcome), rec.JustificationHash.Bytes(),
		addressStrings(rec.Approvers), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append override %s: %w", rec.MarketID.Hex(), err)
	}
	return nil
}

const overrideCols = `forced_outcome, justification_hash, approvers, created_at`

func scanOverride(row pgx.Row, id domain.MarketID) (domain.OverrideRecord, error) {
	var (
		rec           = domain.OverrideRecord{MarketID: id}
		outcome       int16
		justification []byte
		approvers     []string
	)
	if err := row.Scan(&outcome, &justification, &approvers, &rec.Timestamp); err != nil {
		return domain.OverrideRecord{}, err
	}
	rec.ForcedOutcome = domain.Outcome(outcome)
	rec.JustificationHash = common.BytesToHash(justification)
	rec.Approvers = make([]domain.Address, len(approvers))
	for i, a := range approvers {
		rec.Approvers[i] = domain.Address(a)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// Latest returns the most recent override of id.
func (s *OverrideStore) Latest(ctx context.Context, id domain.MarketID) (domain.OverrideRecord, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+overrideCols+` FROM override_records WHERE market_id = $1 ORDER BY id DESC LIMIT 1`,
		id.Bytes())
	rec, err := scanOverride(row, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OverrideRecord{}, domain.ErrNotFound
		}
		return domain.OverrideRecord{}, fmt.Errorf("postgres: latest override %s: %w", id.Hex(), err)
	}
	return rec, nil
}

// History returns every override of id, oldest first.
func (s *OverrideStore) History(ctx context.Context, id domain.MarketID) ([]domain.OverrideRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+overrideCols+` FROM override_records WHERE market_id = $1 ORDER BY id`,
		id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: override history %s: %w", id.Hex(), err)
	}
	defer rows.Close()

	var out []domain.OverrideRecord
	for rows.Next() {
		rec, err := scanOverride(rows, id)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan override: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: override history rows: %w", err)
	}
	return out, nil
}

func addressStrings(addrs []domain.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = string(a)
	}
	return out
}

var (
	_ domain.AdminStore    = (*AdminStore)(nil)
	_ domain.OverrideStore = (*OverrideStore)(nil)
)
