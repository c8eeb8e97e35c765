package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/ai-cost-gateway/config"
	"github.com/vnmchuo/ai-cost-gateway/internal/auth"
	"github.com/vnmchuo/ai-cost-gateway/internal/budget"
	"github.com/vnmchuo/ai-cost-gateway/internal/cost"
	"github.com/vnmchuo/ai-cost-gateway/internal/credential"
	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
	"github.com/vnmchuo/ai-cost-gateway/internal/notify"
	"github.com/vnmchuo/ai-cost-gateway/internal/pricing"
	"github.com/vnmchuo/ai-cost-gateway/internal/provider"
	"github.com/vnmchuo/ai-cost-gateway/internal/provider/anthropic"
	"github.com/vnmchuo/ai-cost-gateway/internal/provider/gemini"
	"github.com/vnmchuo/ai-cost-gateway/internal/provider/openai"
	"github.com/vnmchuo/ai-cost-gateway/internal/proxy"
	"github.com/vnmchuo/ai-cost-gateway/internal/seeder"
	"github.com/vnmchuo/ai-cost-gateway/internal/telemetry"
	"github.com/vnmchuo/ai-cost-gateway/internal/worker"
	"github.com/vnmchuo/ai-cost-gateway/pkg/crypto"
	"github.com/vnmchuo/ai-cost-gateway/pkg/logger"
	"github.com/vnmchuo/ai-cost-gateway/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-cost-gateway", cfg)
	if err != nil {
		zlog.Fatalw("failed to init tracer", "error", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatalw("failed to connect postgres", "error", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		zlog.Fatalw("failed to ping postgres", "error", err)
	}
	zlog.Infow("postgres connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatalw("failed to ping redis", "error", err)
	}
	zlog.Infow("redis connected")

	// 5. Credential encryption
	if cfg.CredentialKey == "" {
		zlog.Fatalw("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	cipher, err := crypto.NewEncryptor(cfg.CredentialKey)
	if err != nil {
		zlog.Fatalw("failed to init credential encryptor", "error", err)
	}

	// 6. Stores
	authStore := auth.NewPostgresStore(pool)
	credentialStore := credential.NewPostgresStore(pool)
	pricingStore := pricing.NewPostgresStore(pool)
	usageStore := ledger.NewPostgresStore(pool)
	budgetStore := budget.NewPostgresStore(pool)

	// 7. Domain services
	credentials := credential.NewResolver(credentialStore, cipher, rdb, cfg.AuthCacheTTL, zlog)
	prices := pricing.NewResolver(pricingStore, rdb, cfg.PricingCacheTTL, zlog)
	calculator := cost.NewCalculator(prices)

	var notifier notify.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.AlertWebhookURL)
	} else {
		notifier = notify.NewLogNotifier(zlog)
	}
	tracker := budget.NewTracker(budgetStore, usageStore, notifier,
		budget.NewRedisLocker(rdb), budget.NewRedisAlertGate(rdb, time.Hour), zlog)

	// 8. Async usage writer; after each append the tenant's budgets are
	// re-evaluated so threshold crossings alert promptly.
	writer := worker.NewUsageWriter(usageStore, 256, func(ctx context.Context, rec *ledger.Record) {
		tracker.Settle(ctx, rec.TenantID, time.Now())
	}, zlog)
	writer.Start()
	defer writer.Close()

	// 9. Rate limiter and providers
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	registry := provider.NewRegistry(
		openai.New(),
		anthropic.New(),
		gemini.New(),
	)

	// 10. Proxy handler
	tracer := otel.GetTracerProvider().Tracer("ai-cost-gateway")
	handler := proxy.NewHandler(registry, credentials, tracker, calculator, writer,
		usageStore, limiter, cfg.UpstreamTimeout, tracer, zlog)

	// 11. Seed development fixtures if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore, zlog)
		seeder.SeedTestCredential(ctx, credentialStore, credentials, zlog)
		seeder.SeedTestBudget(ctx, budgetStore, zlog)
		seeder.SeedPricing(ctx, pricingStore, zlog)
	}

	// 12. Routes
	authMiddleware := auth.NewMiddleware(authStore, rdb, cfg.AuthCacheTTL, zlog)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-cost-gateway"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.HandleFunc("/proxy/{provider}/*", handler.HandleProxy)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/usage/aggregate", handler.HandleUsageAggregate)
		r.Get("/v1/budgets", handler.HandleBudgets)
		r.Post("/v1/cost/estimate", handler.HandleEstimate)
		r.Get("/v1/cost/compare", handler.HandleCompare)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// No WriteTimeout: streamed completions legitimately run for minutes;
		// the per-call upstream timeout bounds them instead.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlog.Infow("gateway starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("server error", "error", err)
		}
	}()

	<-quit
	zlog.Infow("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatalw("forced shutdown", "error", err)
	}
	// Drain pending usage records before exit so no spend is lost.
	writer.Close()
	zlog.Infow("server stopped")
}
