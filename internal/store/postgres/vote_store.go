package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelabs/settle/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Insert stores a dispute vote. The primary key enforces one vote per
// (market, voter); duplicates are rejected in the engine before reaching
// this store, so conflicts are ignored here.
func (s *VoteStore) Insert(ctx context.Context, v domain.Vote) error {
	const query = `
		INSERT INTO votes (market_id, voter, outcome, weight, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, voter) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, int64(v.MarketID), v.Voter.Hex(), v.Outcome, v.Weight, v.CastAt)
	if err != nil {
		return fmt.Errorf("postgres: insert vote %d/%s: %w", v.MarketID, v.Voter.Hex(), err)
	}
	return nil
}

// ListByMarket returns a market's votes in cast order.
func (s *VoteStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Vote, error) {
	const query = `
		SELECT market_id, voter, outcome, weight, cast_at
		FROM votes
		WHERE market_id = $1
		ORDER BY cast_at, voter`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var (
			v     domain.Vote
			id    int64
			voter string
		)
		if err := rows.Scan(&id, &voter, &v.Outcome, &v.Weight, &v.CastAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		v.MarketID = uint64(id)
		v.Voter = common.HexToAddress(voter)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// DeleteByMarket removes every vote in a market.
func (s *VoteStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM votes WHERE market_id = $1`, int64(marketID)); err != nil {
		return fmt.Errorf("postgres: delete votes for market %d: %w", marketID, err)
	}
	return nil
}
