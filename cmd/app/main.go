package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vision2viral/internal/api/v1/router"
	"vision2viral/internal/config"
	"vision2viral/internal/logger"
	"vision2viral/internal/metrics"
	"vision2viral/internal/middleware"
	"vision2viral/internal/model"
	"vision2viral/internal/pgmq"
	"vision2viral/internal/pubsub"
	"vision2viral/internal/repository"
	"vision2viral/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")
	ctx := context.Background()

	// 2. Resolve secrets kept in Secret Manager
	webhookSecret, openAIKey := cfg.StripeWebhookSecret, cfg.OpenAIAPIKey
	if cfg.StripeWebhookSecretName != "" || cfg.OpenAIAPIKeyName != "" {
		resolver, err := service.NewSecretManagerResolver(ctx, cfg.GetGCPProjectID())
		if err != nil {
			logger.Fatal().Msgf("Failed to create Secret Manager client: %v", err)
		}
		if webhookSecret, err = service.ResolveSecret(ctx, resolver, webhookSecret, cfg.StripeWebhookSecretName); err != nil {
			logger.Fatal().Msgf("Failed to resolve Stripe webhook secret: %v", err)
		}
		if openAIKey, err = service.ResolveSecret(ctx, resolver, openAIKey, cfg.OpenAIAPIKeyName); err != nil {
			logger.Fatal().Msgf("Failed to resolve OpenAI API key: %v", err)
		}
		_ = resolver.Close()
	}
	if openAIKey == "" {
		logger.Fatal().Msg("OPENAI_API_KEY or OPENAI_API_KEY_SECRET_NAME is required")
	}
	validateCtx, cancelValidate := context.WithTimeout(ctx, 15*time.Second)
	if err := service.NewOpenAIKeyValidator(cfg.OpenAIBaseURL).ValidateAPIKey(validateCtx, openAIKey); err != nil {
		if errors.Is(err, service.ErrInvalidAPIKey) {
			logger.Fatal().Msgf("OpenAI API key rejected: %v", err)
		}
		logger.Warn().Err(err).Msg("Could not validate OpenAI API key at startup")
	}
	cancelValidate()

	// 3. Open DB connections: a pgx pool for the store, database/sql for pgmq
	pool, err := newPool(ctx, cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB pool: %v", err)
	}
	defer pool.Close()

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	logger.Info().Msg("Database connection successful")

	// 4. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 5. Outbound collaborators
	signer, err := service.NewS3AssetSigner(ctx, service.S3Options{
		Endpoint:  cfg.S3URL,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		TTL:       cfg.AssetURLTTL(),
	})
	if err != nil {
		logger.Fatal().Msgf("Failed to create asset signer: %v", err)
	}

	verifier, err := service.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAdditionalPK)
	if err != nil {
		logger.Fatal().Msgf("Failed to create token verifier: %v", err)
	}

	var activities service.ActivitySink
	if projectID := cfg.GetGCPProjectID(); projectID != "" {
		publisher, err := pubsub.NewPublisher(ctx, projectID)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		defer publisher.Close()
		activities = pubsub.NewActivityPublisher(publisher, cfg.ActivityTopic)
	} else {
		logger.Warn().Msg("GCP project not configured; activity events are not published")
	}

	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Msgf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable at startup; rate limiter will fail open")
		}
		limiter = middleware.NewRateLimiter(rdb, cfg.GenerateRateLimit, cfg.GenerateRateWindow(), "v2v:generate")
	} else {
		logger.Warn().Msg("REDIS_URL not set; generation rate limiting disabled")
	}

	// 6. Repositories & services
	store := repository.NewPostgresStore(pool)
	reconcileQueue := pgmq.NewReconcileQueue(pgmq.New(db), cfg.ReconcileQueueName)

	ledgerSvc := service.NewLedgerService(store, m, logger)
	affiliateSvc := service.NewAffiliateService(store, logger)
	subscriptionSvc := service.NewSubscriptionService(store, ledgerSvc, affiliateSvc, cfg.CanceledBalanceFloor, logger)
	userSvc := service.NewUserService(store, ledgerSvc, subscriptionSvc, logger)
	webhookSvc := service.NewWebhookService(store, subscriptionSvc, webhookSecret, cfg.WebhookTolerance(), activities, m, logger)
	stripeSvc := service.NewStripeService(service.StripeOptions{
		SecretKey: cfg.StripeSecretKey,
		Prices:    prices(cfg),
		AppURL:    cfg.AppURL,
		Timeout:   cfg.StripeTimeout(),
	}, subscriptionSvc, logger)
	spendSvc := service.NewSpendService(service.SpendDeps{
		Store:      store,
		Ledger:     ledgerSvc,
		Subs:       subscriptionSvc,
		Generator:  service.NewOpenAIGenerator(openAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.GenerationTimeout(), logger),
		Signer:     signer,
		Reconcile:  reconcileQueue,
		Activities: activities,
		Metrics:    m,
	}, logger)

	// 7. Router
	r := router.New(router.Deps{
		Verifier:       verifier,
		Spend:          spendSvc,
		Billing:        stripeSvc,
		Accounts:       userSvc,
		Ledger:         ledgerSvc,
		Webhooks:       webhookSvc,
		Limiter:        limiter,
		Metrics:        m,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger)

	// 8. Create HTTP server. The write timeout covers a full generation call.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GenerationTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s", err)
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Msgf("Server forced to shutdown: %v", err)
	}
	logger.Info().Msg("Server shut down gracefully")
}

func prices(cfg *config.Config) map[model.Plan]string {
	out := make(map[model.Plan]string)
	for _, p := range model.PaidPlans() {
		if id, ok := cfg.PriceForPlan(string(p)); ok {
			out[p] = id
		}
	}
	return out
}

func newPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
