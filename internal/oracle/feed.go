// Package oracle defines the price-feed capability used to resolve markets
// and the validation applied to every reading before it may decide an
// outcome. A reading that fails validation is never fatal; the engine
// falls open to dispute voting instead.
package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/outcomelabs/settle/internal/domain"
)

// Reading is one observation from an external price feed.
type Reading struct {
	Price       decimal.Decimal
	Confidence  decimal.Decimal
	PublishTime time.Time
	// Responses is how many upstream publishers contributed to the
	// aggregate. Feeds that do not expose this report 1.
	Responses int
}

// PriceFeed fetches the latest reading for a feed identifier.
type PriceFeed interface {
	Latest(ctx context.Context, feedID string) (Reading, error)
}

// Validate checks a reading against the market's oracle configuration.
// Order matters and is part of the published behavior: staleness first,
// then confidence. A nil error means the reading may decide the outcome.
func Validate(cfg domain.OracleConfig, r Reading, now time.Time) error {
	age := now.Sub(r.PublishTime)
	if age > time.Duration(cfg.MaxStalenessSeconds)*time.Second {
		return domain.ErrStalePrice.WithDetail(
			"age %s exceeds limit %ds", age.Truncate(time.Second), cfg.MaxStalenessSeconds)
	}

	// conf > price * max_confidence_bps / 10000 rejects.
	limit := r.Price.Mul(decimal.NewFromInt(cfg.MaxConfidenceBps)).Div(decimal.NewFromInt(10000))
	if r.Confidence.GreaterThan(limit) {
		return domain.ErrConfidenceTooLow.WithDetail(
			"confidence %s exceeds %s", r.Confidence, limit)
	}

	if cfg.MinResponses > 0 && r.Responses < cfg.MinResponses {
		return domain.ErrConfidenceTooLow.WithDetail(
			"%d responses, need %d", r.Responses, cfg.MinResponses)
	}

	return nil
}

// MapOutcome maps a validated price onto a winning outcome index using the
// market's ordered thresholds: price below thresholds[i] resolves outcome
// i; at or above the last threshold the last outcome wins.
func MapOutcome(cfg domain.OracleConfig, outcomeCount int, price decimal.Decimal) int {
	for i, t := range cfg.Thresholds {
		if price.LessThan(t) {
			return i
		}
	}
	return outcomeCount - 1
}
