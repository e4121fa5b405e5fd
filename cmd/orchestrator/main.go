package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"vision2viral/internal/config"
	"vision2viral/internal/logger"
	"vision2viral/internal/orchestrator/reconcile"
	"vision2viral/internal/pgmq"
	"vision2viral/internal/repository"
	"vision2viral/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: reconcile")
	flag.Parse()

	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB pool: %v", err)
	}
	defer pool.Close()

	pgmqClient := pgmq.New(db)
	logger.Info().Msg("PGMQ client initialized")

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch *mode {
	case "reconcile":
		ledger := service.NewLedgerService(repository.NewPostgresStore(pool), nil, logger)
		runErr = reconcile.Run(ctx, logger, pgmqClient, ledger, reconcile.Options{
			Queue:           cfg.ReconcileQueueName,
			DeadLetterQueue: cfg.ReconcileDeadLetterQueueName,
			PollTimeoutSec:  cfg.ReconcilePollTimeoutSec,
			MaxMessages:     cfg.ReconcilePollMaxMsg,
			MaxRetries:      cfg.ReconcileMaxRetries,
			BackoffInitial:  time.Duration(cfg.ReconcileBackoffInitialSec) * time.Second,
			BackoffMax:      time.Duration(cfg.ReconcileBackoffMaxSec) * time.Second,
		})
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}
	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
