package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/api"
	"github.com/ayo6706/ramp-ledger/internal/api/middleware"
	"github.com/ayo6706/ramp-ledger/internal/chain"
	"github.com/ayo6706/ramp-ledger/internal/config"
	"github.com/ayo6706/ramp-ledger/internal/db"
	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/idempotency"
	"github.com/ayo6706/ramp-ledger/internal/observability"
	"github.com/ayo6706/ramp-ledger/internal/pixcode"
	"github.com/ayo6706/ramp-ledger/internal/repository"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"github.com/ayo6706/ramp-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers and blocks until ctx
// is cancelled or the server fails.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var redisClient redis.Cmdable
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisClient = client
	} else {
		logger.Warn("REDIS_URL not set; idempotency records are read from postgres only")
	}

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisClient, store, cfg.IdempotencyTTL)

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	transferer, closeChain, err := newTransferer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeChain()

	codes, err := pixcode.NewGenerator(cfg.Pix)
	if err != nil {
		return fmt.Errorf("pix code generator: %w", err)
	}
	rates, err := service.NewFixedRateService(cfg.ExchangeRate)
	if err != nil {
		return fmt.Errorf("exchange rate: %w", err)
	}

	accountSvc := service.NewAccountService(store)
	reconciler := service.NewReconciliationService(store)
	lifecycleSvc := service.NewLifecycleService(store, gw, transferer, codes, rates)
	lifecycleSvc.SetExternalCallTimeout(cfg.ExternalCallTimeout)
	payoutSvc := service.NewPayoutService(store, gw, reconciler)
	payoutSvc.SetCallTimeout(cfg.ExternalCallTimeout)
	ledgerSvc := service.NewLedgerCheckService(store)

	if cfg.AdminEmail != "" {
		admin, err := accountSvc.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		logger.Info("admin account ready", zap.String("account_id", admin.ID.String()))
	}

	payoutWorker := worker.NewPayoutWorker(payoutSvc).
		WithPollInterval(cfg.PayoutPollInterval).
		WithBatchSize(cfg.PayoutBatchSize)
	lifecycleSvc.SetPayoutNotifier(payoutWorker.Notify)
	stopPayouts := payoutWorker.Run(ctx)
	logger.Info("payout worker started", zap.Duration("interval", cfg.PayoutPollInterval), zap.Int32("batch", cfg.PayoutBatchSize))

	ledgerWorker := worker.NewLedgerCheckWorker(ledgerSvc).WithInterval(cfg.LedgerCheckInterval)
	stopLedger := ledgerWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, store, idemStore, redisClient, api.Services{
		Accounts:    accountSvc,
		Lifecycle:   lifecycleSvc,
		Resolutions: service.NewResolutionService(store, reconciler),
		LedgerCheck: ledgerSvc,
		Webhooks:    service.NewWebhookService(reconciler, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExternalCallTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.Bool("simulation", cfg.EnableSimulation))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopPayouts()
	stopLedger()

	logger.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config, logger *zap.Logger) (gateway.PaymentGateway, error) {
	if !cfg.Nuvende.Configured() {
		logger.Warn("payment provider not configured; using simulated gateway", zap.Duration("payout_delay", cfg.SimulatedPayoutDelay))
		return gateway.NewSimulatedGateway(cfg.SimulatedPayoutDelay), nil
	}
	gw, err := gateway.NewNuvendeGateway(cfg.Nuvende)
	if err != nil {
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}
	return gw, nil
}

func newTransferer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chain.Transferer, func(), error) {
	if !cfg.EVM.Configured() {
		logger.Warn("blockchain signer not configured; using simulated transfers")
		return chain.NewSimulatedTransferer(), func() {}, nil
	}
	t, err := chain.NewEVMTransferer(ctx, cfg.EVM)
	if err != nil {
		return nil, nil, fmt.Errorf("init evm transferer: %w", err)
	}
	return t, t.Close, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
