package oracle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelabs/settle/internal/domain"
)

func testConfig() domain.OracleConfig {
	return domain.OracleConfig{
		FeedID:              "BTC/USD",
		MinResponses:        3,
		MaxStalenessSeconds: 60,
		MaxConfidenceBps:    100, // 1%
		Thresholds: []decimal.Decimal{
			decimal.NewFromInt(50000),
			decimal.NewFromInt(60000),
		},
	}
}

func freshReading(now time.Time) Reading {
	return Reading{
		Price:       decimal.NewFromInt(55000),
		Confidence:  decimal.NewFromInt(100),
		PublishTime: now.Add(-10 * time.Second),
		Responses:   5,
	}
}

func TestValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := testConfig()

	t.Run("accepts a fresh confident reading", func(t *testing.T) {
		require.NoError(t, Validate(cfg, freshReading(now), now))
	})

	t.Run("rejects stale readings", func(t *testing.T) {
		r := freshReading(now)
		r.PublishTime = now.Add(-61 * time.Second)
		err := Validate(cfg, r, now)
		assert.ErrorIs(t, err, domain.ErrStalePrice)
	})

	t.Run("staleness is checked before confidence", func(t *testing.T) {
		r := freshReading(now)
		r.PublishTime = now.Add(-2 * time.Hour)
		r.Confidence = decimal.NewFromInt(1_000_000)
		err := Validate(cfg, r, now)
		assert.ErrorIs(t, err, domain.ErrStalePrice, "a stale reading fails on staleness even when confidence is also bad")
	})

	t.Run("reading at the staleness limit passes", func(t *testing.T) {
		r := freshReading(now)
		r.PublishTime = now.Add(-60 * time.Second)
		require.NoError(t, Validate(cfg, r, now))
	})

	t.Run("rejects wide confidence intervals", func(t *testing.T) {
		r := freshReading(now)
		// Limit is 1% of 55000 = 550; just over it rejects.
		r.Confidence = decimal.NewFromInt(551)
		err := Validate(cfg, r, now)
		assert.ErrorIs(t, err, domain.ErrConfidenceTooLow)
	})

	t.Run("confidence exactly at the limit passes", func(t *testing.T) {
		r := freshReading(now)
		r.Confidence = decimal.NewFromInt(550)
		require.NoError(t, Validate(cfg, r, now))
	})

	t.Run("rejects too few responses", func(t *testing.T) {
		r := freshReading(now)
		r.Responses = 2
		err := Validate(cfg, r, now)
		assert.ErrorIs(t, err, domain.ErrConfidenceTooLow)
	})

	t.Run("response floor disabled when zero", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinResponses = 0
		r := freshReading(now)
		r.Responses = 1
		require.NoError(t, Validate(cfg, r, now))
	})
}

func TestMapOutcome(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name  string
		price int64
		want  int
	}{
		{"below first threshold", 49999, 0},
		{"at first threshold goes to next bucket", 50000, 1},
		{"between thresholds", 55000, 1},
		{"at last threshold wins last outcome", 60000, 2},
		{"far above last threshold", 90000, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapOutcome(cfg, 3, decimal.NewFromInt(tc.price))
			assert.Equal(t, tc.want, got)
		})
	}
}
