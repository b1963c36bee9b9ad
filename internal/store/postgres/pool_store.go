package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelabs/settle/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// UpsertPool stores one outcome pool's reserves.
func (s *PoolStore) UpsertPool(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (market_id, outcome, collateral_reserve, share_reserve, k, seed, shares_circulating, fees_collateral, fees_shares)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, outcome) DO UPDATE SET
			collateral_reserve = EXCLUDED.collateral_reserve,
			share_reserve      = EXCLUDED.share_reserve,
			shares_circulating = EXCLUDED.shares_circulating,
			fees_collateral    = EXCLUDED.fees_collateral,
			fees_shares        = EXCLUDED.fees_shares`

	_, err := s.pool.Exec(ctx, query,
		int64(p.MarketID), p.Outcome, p.CollateralReserve, p.ShareReserve, p.K, p.Seed, p.SharesCirculating,
		p.FeesCollateral, p.FeesShares,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pool %d/%d: %w", p.MarketID, p.Outcome, err)
	}
	return nil
}

// UpsertBalance stores one holder's share balance in one outcome pool.
func (s *PoolStore) UpsertBalance(ctx context.Context, b domain.ShareBalance) error {
	const query = `
		INSERT INTO share_balances (market_id, outcome, holder, shares)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, outcome, holder) DO UPDATE SET
			shares = EXCLUDED.shares`

	_, err := s.pool.Exec(ctx, query, int64(b.MarketID), b.Outcome, b.Holder.Hex(), b.Shares)
	if err != nil {
		return fmt.Errorf("postgres: upsert balance %d/%d/%s: %w", b.MarketID, b.Outcome, b.Holder.Hex(), err)
	}
	return nil
}

// ListPools returns all outcome pools of a market ordered by outcome.
func (s *PoolStore) ListPools(ctx context.Context, marketID uint64) ([]domain.Pool, error) {
	const query = `
		SELECT market_id, outcome, collateral_reserve, share_reserve, k, seed, shares_circulating, fees_collateral, fees_shares
		FROM pools
		WHERE market_id = $1
		ORDER BY outcome`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var (
			p  domain.Pool
			id int64
		)
		if err := rows.Scan(&id, &p.Outcome, &p.CollateralReserve, &p.ShareReserve, &p.K, &p.Seed, &p.SharesCirculating, &p.FeesCollateral, &p.FeesShares); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		p.MarketID = uint64(id)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// ListBalances returns every share balance in a market.
func (s *PoolStore) ListBalances(ctx context.Context, marketID uint64) ([]domain.ShareBalance, error) {
	const query = `
		SELECT market_id, outcome, holder, shares
		FROM share_balances
		WHERE market_id = $1
		ORDER BY outcome, holder`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var balances []domain.ShareBalance
	for rows.Next() {
		var (
			b      domain.ShareBalance
			id     int64
			holder string
		)
		if err := rows.Scan(&id, &b.Outcome, &holder, &b.Shares); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		b.MarketID = uint64(id)
		b.Holder = common.HexToAddress(holder)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// DeleteByMarket removes a market's pools and share balances.
func (s *PoolStore) DeleteByMarket(ctx context.Context, marketID uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM share_balances WHERE market_id = $1`, int64(marketID)); err != nil {
		return fmt.Errorf("postgres: delete balances for market %d: %w", marketID, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE market_id = $1`, int64(marketID)); err != nil {
		return fmt.Errorf("postgres: delete pools for market %d: %w", marketID, err)
	}
	return nil
}
