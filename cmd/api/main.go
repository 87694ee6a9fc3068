package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/tienda-labs/backend-tienda/internal/address"
	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/cart"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/checkout"
	"github.com/tienda-labs/backend-tienda/internal/common"
	"github.com/tienda-labs/backend-tienda/internal/config"
	"github.com/tienda-labs/backend-tienda/internal/events"
	"github.com/tienda-labs/backend-tienda/internal/health"
	"github.com/tienda-labs/backend-tienda/internal/lock"
	"github.com/tienda-labs/backend-tienda/internal/obs"
	"github.com/tienda-labs/backend-tienda/internal/payment"
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

	if err := runMigrations(cfg); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

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
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn().Err(err).Msg("instrument redis tracing")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Carts still work without Redis; locks and idempotency
		// degrade to single-instance semantics.
		logger.Warn().Err(err).Msg("redis unreachable, starting degraded")
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queue.Close()

	st := store.New(pool)

	registry := catalog.NewRegistry()
	registry.Register(catalog.KindProduct, &catalog.Products{Q: st, R: rdb, TTL: cfg.CatalogCacheTTL})
	registry.Register(catalog.KindCourse, &catalog.Courses{Q: st})

	locker := lock.Locker{R: rdb}
	emitter := &analytics.QueueEmitter{Client: queue}
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	cartSvc := &cart.Service{
		Q:       st,
		Catalog: registry,
		Locker:  locker,
		Emitter: emitter,
		TaxRate: cfg.TaxRateAmount(),
	}
	checkoutSvc := &checkout.Service{
		Repo:    st,
		Carts:   cartSvc,
		Catalog: registry,
		Locker:  locker,
		TaxRate: cfg.TaxRateAmount(),
		Gateway: &payment.HTTPGateway{
			BaseURL:   cfg.PaymentBaseURL,
			SecretKey: cfg.PaymentSecretKey,
			Timeout:   cfg.PaymentTimeout,
		},
		Bus:      &events.Bus{Log: st},
		Emitter:  emitter,
		Queue:    queue,
		Metrics:  metrics,
		Currency: cfg.Currency,
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	cartHandler := &cart.Handler{Svc: cartSvc, Validate: validate}
	addressHandler := &address.Handler{Repo: st, Validate: validate}
	checkoutHandler := &checkout.Handler{
		Svc:         checkoutSvc,
		Fulfillment: &checkout.Fulfillment{Repo: st},
		Validate:    validate,
	}
	healthHandler := &health.Handler{Pool: pool, Redis: rdb}
	idem := common.Idem{R: rdb, TTL: 24 * time.Hour}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthHandler.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(common.RequireUser)
		cartHandler.Register(r)
		addressHandler.Register(r)
		r.Group(func(r chi.Router) {
			r.Use(idem.Middleware)
			checkoutHandler.Register(r)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func runMigrations(cfg config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
