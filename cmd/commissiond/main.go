package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/commission"
	"github.com/boddenberg/commission-tracker-go/internal/config"
	"github.com/boddenberg/commission-tracker-go/internal/domain"
	"github.com/boddenberg/commission-tracker-go/internal/handler"
	"github.com/boddenberg/commission-tracker-go/internal/infra/cache"
	"github.com/boddenberg/commission-tracker-go/internal/infra/observability"
	"github.com/boddenberg/commission-tracker-go/internal/infra/postgres"
	"github.com/boddenberg/commission-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/commission-tracker-go/internal/infra/supabase"
	"github.com/boddenberg/commission-tracker-go/internal/port"
	"github.com/boddenberg/commission-tracker-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_backend", cfg.DataBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.String("remainder_party", cfg.RemainderParty),
		zap.Bool("account_repair", cfg.AccountRepair),
	)

	ctx := context.Background()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "commission-tracker")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	var reportCache port.Cache[*domain.CommissionReport]
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		reportCache = cache.NewRedis[*domain.CommissionReport](rdb, "commission:", cfg.CacheTTL, logger)
		logger.Info("using redis report cache", zap.String("addr", cfg.RedisAddr))
	} else {
		mem := cache.New[*domain.CommissionReport](cfg.CacheTTL)
		defer mem.Close()
		reportCache = mem
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker(cfg.DataBackend, logger)

	// --- Data backend ---
	var (
		source port.CommissionSource
		sink   port.CommissionSink
	)
	switch cfg.DataBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		if cfg.DBAutoMigrate {
			if err := postgres.Migrate(db); err != nil {
				logger.Fatal("failed to migrate", zap.Error(err))
			}
		}
		store := postgres.NewStore(db, cb, resilienceCfg, logger)
		source, sink = store, store
		logger.Info("using postgres as data backend")
	default:
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		client := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			logger,
		)
		source, sink = client, client
		if cfg.SupabaseServiceKey == "" {
			logger.Warn("SUPABASE_SERVICE_ROLE_KEY not set, commission runs are written with the anon key")
		}
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
	}

	// --- Services ---
	allocator, err := commission.NewAllocator(cfg.RemainderParty, logger)
	if err != nil {
		logger.Fatal("invalid allocator settings", zap.Error(err))
	}

	var opts []service.Option
	if sink != nil {
		opts = append(opts, service.WithSink(sink))
	}
	if cfg.AccountRepair {
		opts = append(opts, service.WithAccountRepair(cfg.AccountRepairMinLen))
	}
	svc := service.NewCommissionService(
		source,
		reportCache,
		allocator,
		metrics,
		resilience.NewBulkhead(cfg.MaxConcurrency),
		logger,
		opts...,
	)

	// --- Router ---
	router := handler.NewRouter(svc, metrics, logger, handler.Options{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
