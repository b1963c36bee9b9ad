package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelabs/settle/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Insert stores a single bet.
func (s *BetStore) Insert(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (id, market_id, bettor, outcome, amount, placed_at, claimed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		b.ID, int64(b.MarketID), b.Bettor.Hex(), b.Outcome, b.Amount, b.PlacedAt, b.Claimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", b.ID, err)
	}
	return nil
}

// MarkClaimed flags every bet a bettor holds in a market as claimed.
func (s *BetStore) MarkClaimed(ctx context.Context, marketID uint64, bettor string) error {
	const query = `UPDATE bets SET claimed = TRUE WHERE market_id = $1 AND bettor = $2`

	if _, err := s.pool.Exec(ctx, query, int64(marketID), bettor); err != nil {
		return fmt.Errorf("postgres: mark claimed market %d bettor %s: %w", marketID, bettor, err)
	}
	return nil
}

// ListByMarket returns all bets in a market in placement order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Bet, error) {
	const query = `
		SELECT id, market_id, bettor, outcome, amount, placed_at, claimed
		FROM bets
		WHERE market_id = $1
		ORDER BY placed_at, id`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b      domain.Bet
			id     int64
			bettor string
		)
		if err := rows.Scan(&b.ID, &id, &bettor, &b.Outcome, &b.Amount, &b.PlacedAt, &b.Claimed); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.MarketID = uint64(id)
		b.Bettor = common.HexToAddress(bettor)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// DeleteByMarket removes every bet in a market.
func (s *BetStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bets WHERE market_id = $1`, int64(marketID)); err != nil {
		return fmt.Errorf("postgres: delete bets for market %d: %w", marketID, err)
	}
	return nil
}
