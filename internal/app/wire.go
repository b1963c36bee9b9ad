package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/outcomelabs/settle/internal/blob/s3"
	"github.com/outcomelabs/settle/internal/cache/redis"
	"github.com/outcomelabs/settle/internal/config"
	"github.com/outcomelabs/settle/internal/domain"
	"github.com/outcomelabs/settle/internal/engine"
	"github.com/outcomelabs/settle/internal/governance"
	"github.com/outcomelabs/settle/internal/oracle"
	"github.com/outcomelabs/settle/internal/server/handler"
	"github.com/outcomelabs/settle/internal/store/postgres"
)

// Dependencies bundles everything the daemon needs to serve: the engine
// with its collaborators already injected, plus the pieces the HTTP layer
// consumes directly. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Engine     *engine.Engine
	Governance *governance.Static
	SignalBus  domain.SignalBus
	EventStore domain.EventStore
	Pingers    map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	var persist engine.Persistence

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		persist = engine.Persistence{
			Markets: postgres.NewMarketStore(pool),
			Bets:    postgres.NewBetStore(pool),
			Claims:  postgres.NewClaimStore(pool),
			Pools:   postgres.NewPoolStore(pool),
			Votes:   postgres.NewVoteStore(pool),
			Events:  postgres.NewEventStore(pool),
		}
		deps.EventStore = persist.Events
		deps.Pingers["postgres"] = pgClient
	}

	// --- Redis ---
	var metricsCache domain.MetricsCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		metricsCache = redis.NewMetricsCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	}

	// --- S3 archiver ---
	var archiver domain.Archiver
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Governance ---
	admins := make([]common.Address, 0, len(cfg.Governance.Admins))
	for _, a := range cfg.Governance.Admins {
		if !common.IsHexAddress(a) {
			cleanup()
			return nil, nil, fmt.Errorf("wire: governance admin %q is not a hex address", a)
		}
		admins = append(admins, common.HexToAddress(a))
	}
	deps.Governance = governance.NewStatic(admins)
	switch cfg.Governance.InitialFreeze {
	case "partial_freeze":
		deps.Governance.SetFreeze(domain.FreezePartial)
	case "full_freeze":
		deps.Governance.SetFreeze(domain.FreezeFull)
	}

	// --- Oracle feed ---
	var feed oracle.PriceFeed
	if cfg.Oracle.BaseURL != "" {
		feed = oracle.NewHTTPFeed(cfg.Oracle.BaseURL, cfg.Oracle.ApiKey)
	}

	// --- Engine ---
	engineCfg := engine.Config{
		MaxOutcomes:          cfg.Engine.MaxOutcomes,
		MaxPushPayoutWinners: cfg.Engine.MaxPushPayoutWinners,
		CreationDeposit:      decimalFrom(cfg.Engine.CreationDeposit),
		VotingWindow:         cfg.Engine.VotingWindow(),
		PruneGracePeriod:     cfg.Engine.PruneGrace(),
	}

	deps.Engine = engine.New(engineCfg, engine.Deps{
		Governance: deps.Governance,
		Feed:       feed,
		Sink:       newBusSink(deps.SignalBus, logger),
		Metrics:    metricsCache,
		Archiver:   archiver,
		Persist:    persist,
	}, logger)

	return deps, cleanup, nil
}

// decimalFrom converts a config float to the engine's decimal type.
func decimalFrom(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// busSink bridges engine events onto the signal bus as JSON, one channel
// per topic. A nil bus yields a no-op sink.
type busSink struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func newBusSink(bus domain.SignalBus, logger *slog.Logger) domain.EventSink {
	return &busSink{bus: bus, logger: logger}
}

func (s *busSink) Emit(ev domain.Event) {
	if s.bus == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("event marshal failed",
			slog.String("topic", ev.Topic),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, "events:"+ev.Topic, data); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("topic", ev.Topic),
			slog.String("error", err.Error()),
		)
	}
}
