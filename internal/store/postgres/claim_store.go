package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Record stores one (market, claimant) payout. Recording the same pair
// twice is a no-op.
func (s *ClaimStore) Record(ctx context.Context, marketID uint64, claimant string) error {
	const query = `
		INSERT INTO claims (market_id, claimant)
		VALUES ($1, $2)
		ON CONFLICT (market_id, claimant) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, int64(marketID), claimant); err != nil {
		return fmt.Errorf("postgres: record claim %d/%s: %w", marketID, claimant, err)
	}
	return nil
}

// ListByMarket returns every paid-out claimant of a market.
func (s *ClaimStore) ListByMarket(ctx context.Context, marketID uint64) ([]string, error) {
	const query = `
		SELECT claimant
		FROM claims
		WHERE market_id = $1
		ORDER BY claimant`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var claimants []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		claimants = append(claimants, c)
	}
	return claimants, rows.Err()
}

// DeleteByMarket removes a market's claim records.
func (s *ClaimStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM claims WHERE market_id = $1`, int64(marketID)); err != nil {
		return fmt.Errorf("postgres: delete claims for market %d: %w", marketID, err)
	}
	return nil
}
