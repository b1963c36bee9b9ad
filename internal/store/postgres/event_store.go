package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelabs/settle/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The table is
// append-only; rows survive market pruning so indexers can replay history.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection
// pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append stores one emitted event.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO events (id, topic, market_id, subject, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	var payload []byte
	if ev.Payload != nil {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return fmt.Errorf("postgres: marshal event payload %s: %w", ev.ID, err)
		}
	}

	_, err := s.pool.Exec(ctx, query, ev.ID, ev.Topic, int64(ev.MarketID), ev.Subject, payload, ev.EmittedAt)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListByMarket returns a market's events oldest first.
func (s *EventStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT id, topic, market_id, subject, payload, emitted_at
		FROM events
		WHERE market_id = $1
		ORDER BY emitted_at, id`
	args := []any{int64(marketID)}
	if opts.Limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			id      int64
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &id, &ev.Subject, &payload, &ev.EmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.MarketID = uint64(id)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event payload %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
