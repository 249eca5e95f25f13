package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// EventStore implements domain.EventLog on the oracle_events table.
// Attributes are stored as JSONB.
type EventStore struct {
	q querier
}

// Append inserts ev. The sequence number is assigned by the database.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: marshal event attributes: %w", err)
	}

	const query = `
		INSERT INTO oracle_events (id, event_type, attributes, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.q.Exec(ctx, query, ev.ID, string(ev.Type), attrs, ev.Timestamp); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.Type, err)
	}
	return nil
}

const eventCols = `seq, id::text, event_type, attributes, created_at`

// List returns events in commit order with pagination and optional time
// filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventCols + ` FROM oracle_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return scanEvents(rows)
}

// ListBefore returns every event committed before the given time.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+eventCols+` FROM oracle_events WHERE created_at < $1 ORDER BY seq`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev        domain.Event
			eventType string
			attrs     []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &eventType, &attrs, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(eventType)
		ev.Timestamp = ev.Timestamp.UTC()
		if attrs != nil {
			if err := json.Unmarshal(attrs, &ev.Attributes); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event attributes: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventLog = (*EventStore)(nil)
