package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/config"
	"github.com/tienda-labs/backend-tienda/internal/obs"
	"github.com/tienda-labs/backend-tienda/internal/reconcile"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := obs.NewLogger("info", "json")
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("create pg pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping postgres")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	st := store.New(pool)
	registry := catalog.NewRegistry()
	registry.Register(catalog.KindProduct, &catalog.Products{Q: st, R: rdb, TTL: cfg.CatalogCacheTTL})
	registry.Register(catalog.KindCourse, &catalog.Courses{Q: st})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				reconcile.QueueReconcile: 6,
				analytics.QueueAnalytics: 3,
				"default":                1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(reconcile.TaskReplay, &reconcile.Handler{Repo: st, Catalog: registry})
	mux.Handle(analytics.TaskInteraction, &analytics.Handler{Sink: st})

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down worker")
		srv.Shutdown()
	}()

	logger.Info().Msg("worker started")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("run worker")
	}
}
