/**
 * @description
 * This is the main entry point for the badge-service. It initializes and
 * wires together all the components of the application: configuration, the
 * database connection pool, the Redis locker, the RabbitMQ event producer,
 * the gateway adapter registry, the application service, and the HTTP
 * router. Finally, it starts the HTTP server and handles graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/iamshibly/AniMaze-sub001/internal/api"
	"github.com/iamshibly/AniMaze-sub001/internal/app"
	"github.com/iamshibly/AniMaze-sub001/internal/config"
	"github.com/iamshibly/AniMaze-sub001/internal/domain"
	"github.com/iamshibly/AniMaze-sub001/internal/gateway"
	"github.com/iamshibly/AniMaze-sub001/internal/store"
	"github.com/iamshibly/AniMaze-sub001/pkg/rabbitmq"
	"github.com/iamshibly/AniMaze-sub001/pkg/xpledger"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env if present; environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Use simple protocol so the pool works behind PgBouncer transaction pooling.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the per-user locks. The service degrades to DB-only
	// guarding when Redis is not configured.
	var locker *app.RedisUserLocker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		locker = app.NewRedisUserLocker(redisClient, cfg.RedisLockPrefix)
		logger.Info("redis user locker enabled")
	} else {
		logger.Warn("REDIS_URL not set; per-user locking disabled")
	}

	// RabbitMQ producer with no-op fallback so entitlement operations keep
	// working while the broker is down.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable; events will be skipped", "error", err)
			producer = &rabbitmq.EventProducerFallback{}
		} else {
			producer = p
		}
	} else {
		logger.Warn("RABBITMQ_URL not set; events will be skipped")
		producer = &rabbitmq.EventProducerFallback{}
	}
	defer producer.Close()

	// The XP ledger owns balances; without it the service trusts
	// caller-supplied balances (sandbox mode).
	var ledger app.XPLedger
	if cfg.XPLedgerURL != "" {
		ledger = xpledger.NewClient(cfg.XPLedgerURL, cfg.XPLedgerAPIKey)
		logger.Info("xp ledger client configured")
	} else {
		logger.Warn("XP_LEDGER_URL not set; redemptions trust caller-supplied balances")
	}

	registry := gateway.NewRegistry()
	registry.Register(gateway.NewBkashAdapter(adapterCreds(cfg.Bkash)))
	registry.Register(gateway.NewNagadAdapter(adapterCreds(cfg.Nagad)))
	registry.Register(gateway.NewUpayAdapter(adapterCreds(cfg.Upay)))
	registry.Register(gateway.NewRocketAdapter(adapterCreds(cfg.Rocket)))
	registry.Register(gateway.NewCardAdapter(adapterCreds(cfg.Card)))

	webhookSecrets := map[string]string{
		domain.GatewayBkash:  cfg.Bkash.WebhookSecret,
		domain.GatewayNagad:  cfg.Nagad.WebhookSecret,
		domain.GatewayUpay:   cfg.Upay.WebhookSecret,
		domain.GatewayRocket: cfg.Rocket.WebhookSecret,
		domain.GatewayCard:   cfg.Card.WebhookSecret,
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, registry, producer, locker, ledger)
	handlers := api.NewBadgeHandlers(service, webhookSecrets)
	router := api.NewRouter(handlers, cfg.JWTSecret, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

func adapterCreds(c config.GatewayCredentials) gateway.Credentials {
	return gateway.Credentials{
		BaseURL:    c.BaseURL,
		MerchantID: c.MerchantID,
		Secret:     c.Secret,
	}
}
