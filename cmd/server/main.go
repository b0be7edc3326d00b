package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"retailcraft/backend/internal/cache"
	"retailcraft/backend/internal/config"
	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/events"
	"retailcraft/backend/internal/httpapi"
	"retailcraft/backend/internal/logging"
	"retailcraft/backend/internal/metrics"
	"retailcraft/backend/internal/service"
	"retailcraft/backend/internal/store"
	"retailcraft/backend/internal/store/memory"
	"retailcraft/backend/internal/store/sqlstore"
	"retailcraft/backend/internal/telemetry"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	if cfg.JaegerEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.JaegerEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			closers = append(closers, func() error { return tp.Shutdown(context.Background()) })
			logger.Info("tracing: jaeger", zap.String("endpoint", cfg.JaegerEndpoint))
		}
	}

	repo, seeded, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.Error(err))
	}
	closers = append(closers, repo.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
	}

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop rate cache", zap.Error(err))
		} else {
			opts = append(opts, service.WithRateCache(redisCache, time.Duration(cfg.RateCacheTTLSeconds)*time.Second))
			closers = append(closers, redisCache.Close)
			logger.Info("rate cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		opts = append(opts, service.WithPublisher(publisher))
		closers = append(closers, publisher.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	svc := service.New(repo, opts...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(m, registry),
	)

	if seeded && !cfg.IsProduction() {
		logDemoToken(logger, auth)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository picks the SQL store when DATABASE_URL is set and applies its
// migrations. Otherwise it falls back to the seeded in-memory store and reports seeded=true.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, bool, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory (seeded demo data)")
		return memory.NewSeeded(), true, nil
	}

	db, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, false, fmt.Errorf("DATABASE_URL is set but the database is unreachable; refusing to start with in-memory fallback: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("repository: sql", zap.String("driver", cfg.DatabaseDriver))
	return db, false, nil
}

func logDemoToken(logger *zap.Logger, auth *httpapi.AuthManager) {
	token, expiresAt, err := auth.IssueToken(domain.Actor{
		UserID:   "demo-admin",
		TenantID: "demo-tenant",
		StoreID:  "main-store",
		Role:     httpapi.RoleAdmin,
	})
	if err != nil {
		logger.Warn("could not issue demo token", zap.Error(err))
		return
	}
	logger.Info("demo admin token", zap.String("token", token), zap.Time("expires_at", expiresAt))
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch strings.ToLower(cfg.DatabaseDriver) {
	case "", "pgx", "postgres", "postgresql", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported", cfg.DatabaseDriver)
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set in production")
	}
	if cfg.IsProduction() && (cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*") {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin in production")
	}
	return nil
}
