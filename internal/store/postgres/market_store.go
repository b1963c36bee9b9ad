package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection
// pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, creator, description, outcomes,
			betting_deadline, resolution_deadline, status, oracle_config,
			winning_outcome, payout_mode, tier, creation_deposit,
			deposit_released, stake_by_outcome, volume_by_outcome,
			voting_ends_at, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			status            = EXCLUDED.status,
			winning_outcome   = EXCLUDED.winning_outcome,
			payout_mode       = EXCLUDED.payout_mode,
			deposit_released  = EXCLUDED.deposit_released,
			stake_by_outcome  = EXCLUDED.stake_by_outcome,
			volume_by_outcome = EXCLUDED.volume_by_outcome,
			voting_ends_at    = EXCLUDED.voting_ends_at,
			resolved_at       = EXCLUDED.resolved_at`

	oracleJSON, err := marshalOracle(m.Oracle)
	if err != nil {
		return fmt.Errorf("postgres: marshal oracle config for market %d: %w", m.ID, err)
	}

	_, err = s.pool.Exec(ctx, query,
		int64(m.ID), m.Creator.Hex(), m.Description, m.Outcomes,
		m.BettingDeadline, m.ResolutionDeadline, string(m.Status), oracleJSON,
		m.WinningOutcome, string(m.PayoutMode), string(m.Tier), m.CreationDeposit,
		m.DepositReleased, decimalsToStrings(m.StakeByOutcome), decimalsToStrings(m.VolumeByOutcome),
		m.VotingEndsAt, m.CreatedAt, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// Get retrieves a market by id, returning domain.ErrMarketNotFound when
// absent.
func (s *MarketStore) Get(ctx context.Context, id uint64) (domain.Market, error) {
	const query = selectMarkets + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, int64(id))
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by id.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := selectMarkets + ` ORDER BY id`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Delete removes a market row; bulk rows cascade.
func (s *MarketStore) Delete(ctx context.Context, id uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE id = $1`, int64(id)); err != nil {
		return fmt.Errorf("postgres: delete market %d: %w", id, err)
	}
	return nil
}

const selectMarkets = `
	SELECT id, creator, description, outcomes,
	       betting_deadline, resolution_deadline, status, oracle_config,
	       winning_outcome, payout_mode, tier, creation_deposit,
	       deposit_released, stake_by_outcome, volume_by_outcome,
	       voting_ends_at, created_at, resolved_at
	FROM markets`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		id         int64
		creator    string
		status     string
		payoutMode string
		tier       string
		oracleJSON []byte
		stakes     []string
		volumes    []string
	)

	err := row.Scan(
		&id, &creator, &m.Description, &m.Outcomes,
		&m.BettingDeadline, &m.ResolutionDeadline, &status, &oracleJSON,
		&m.WinningOutcome, &payoutMode, &tier, &m.CreationDeposit,
		&m.DepositReleased, &stakes, &volumes,
		&m.VotingEndsAt, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Creator = common.HexToAddress(creator)
	m.Status = domain.MarketStatus(status)
	m.PayoutMode = domain.PayoutMode(payoutMode)
	m.Tier = domain.Tier(tier)

	if m.Oracle, err = unmarshalOracle(oracleJSON); err != nil {
		return domain.Market{}, err
	}
	if m.StakeByOutcome, err = stringsToDecimals(stakes); err != nil {
		return domain.Market{}, err
	}
	if m.VolumeByOutcome, err = stringsToDecimals(volumes); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// oracleRecord is the JSONB shape of an oracle configuration.
type oracleRecord struct {
	Oracle              string   `json:"oracle"`
	FeedID              string   `json:"feed_id"`
	MinResponses        int      `json:"min_responses"`
	MaxStalenessSeconds int64    `json:"max_staleness_seconds"`
	MaxConfidenceBps    int64    `json:"max_confidence_bps"`
	Thresholds          []string `json:"thresholds"`
}

func marshalOracle(cfg *domain.OracleConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	return json.Marshal(oracleRecord{
		Oracle:              cfg.Oracle.Hex(),
		FeedID:              cfg.FeedID,
		MinResponses:        cfg.MinResponses,
		MaxStalenessSeconds: cfg.MaxStalenessSeconds,
		MaxConfidenceBps:    cfg.MaxConfidenceBps,
		Thresholds:          decimalsToStrings(cfg.Thresholds),
	})
}

func unmarshalOracle(data []byte) (*domain.OracleConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec oracleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	thresholds, err := stringsToDecimals(rec.Thresholds)
	if err != nil {
		return nil, err
	}
	return &domain.OracleConfig{
		Oracle:              common.HexToAddress(rec.Oracle),
		FeedID:              rec.FeedID,
		MinResponses:        rec.MinResponses,
		MaxStalenessSeconds: rec.MaxStalenessSeconds,
		MaxConfidenceBps:    rec.MaxConfidenceBps,
		Thresholds:          thresholds,
	}, nil
}

func decimalsToStrings(in []decimal.Decimal) []string {
	out := make([]string, len(in))
	for i, d := range in {
		out[i] = d.String()
	}
	return out
}

func stringsToDecimals(in []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(in))
	for i, s := range in {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", s, err)
		}
		out[i] = d
	}
	return out, nil
}
