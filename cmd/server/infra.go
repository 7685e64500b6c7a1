package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"provenance/internal/audit"
	"provenance/internal/audit/kafka"
	auditmemory "provenance/internal/audit/store/memory"
	auditpostgres "provenance/internal/audit/store/postgres"
	httpapi "provenance/internal/http"
	"provenance/internal/platform/config"
	"provenance/internal/platform/redis"
	"provenance/internal/provenance/store/existence"
	ratelimit "provenance/internal/ratelimit/middleware"
	rlmodels "provenance/internal/ratelimit/models"
	"provenance/internal/ratelimit/store/bucket"
	"provenance/pkg/platform/circuit"
)

const existenceCacheCooldown = 30 * time.Second

// infra holds the optional backing services selected by configuration.
// Each one falls back to an in-process store when unset.
type infra struct {
	existence    existence.Cache
	rateLimiter  *ratelimit.Middleware
	journal      audit.Store
	sinks        []audit.Sink
	healthChecks []httpapi.HealthCheck
	closers      []func()
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if err := in.buildExistence(ctx, cfg, log); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.buildJournal(ctx, cfg, log); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.buildStream(cfg, log); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (in *infra) buildExistence(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		log.Info("existence cache and rate limits: in-memory")
		in.existence = existence.NewInMemory(cfg.ExistsCacheTTL)
		in.rateLimiter = newRateLimiter(bucket.NewInMemoryBucketStore(), cfg.RateLimit, log)
		return nil
	}
	log.Info("existence cache and rate limits: redis")
	breaker := circuit.New("existence-cache",
		circuit.WithFailureThreshold(5),
		circuit.WithSuccessThreshold(2),
	)
	in.existence = existence.NewGuarded(existence.NewRedis(client.Client, cfg.ExistsCacheTTL), breaker, existenceCacheCooldown, log)
	in.rateLimiter = newRateLimiter(bucket.NewRedis(client.Client), cfg.RateLimit, log)
	in.healthChecks = append(in.healthChecks, httpapi.HealthCheck{Name: "redis", Check: client.Health})
	in.closers = append(in.closers, func() { _ = client.Close() })
	return nil
}

func (in *infra) buildJournal(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		log.Info("provenance journal: in-memory")
		store := auditmemory.NewInMemoryStore()
		in.journal = store
		in.sinks = append(in.sinks, store)
		return nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	in.closers = append(in.closers, func() { _ = db.Close() })
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	store := auditpostgres.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	log.Info("provenance journal: postgres")
	in.journal = store
	in.sinks = append(in.sinks, store)
	in.healthChecks = append(in.healthChecks, httpapi.HealthCheck{Name: "postgres", Check: db.PingContext})
	return nil
}

func (in *infra) buildStream(cfg config.Server, log *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	sink, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return fmt.Errorf("build kafka sink: %w", err)
	}
	log.Info("provenance events streamed to kafka", "topic", cfg.Kafka.Topic)
	in.sinks = append(in.sinks, sink)
	in.healthChecks = append(in.healthChecks, httpapi.HealthCheck{Name: "kafka", Check: sink.Health})
	in.closers = append(in.closers, sink.Close)
	return nil
}

func newRateLimiter(store ratelimit.BucketStore, cfg config.RateLimitConfig, log *slog.Logger) *ratelimit.Middleware {
	perMinute := func(n int) rlmodels.Limit {
		return rlmodels.Limit{Requests: n, Window: time.Minute}
	}
	return ratelimit.New(store, log,
		ratelimit.WithDisabled(cfg.Disabled),
		ratelimit.WithLimit(rlmodels.ClassRead, perMinute(cfg.ReadPerMinute)),
		ratelimit.WithLimit(rlmodels.ClassScan, perMinute(cfg.ScanPerMinute)),
		ratelimit.WithLimit(rlmodels.ClassWrite, perMinute(cfg.WritePerMinute)),
	)
}

// Close releases resources in reverse order of acquisition.
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}
