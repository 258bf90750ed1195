package api

import (
	"net/http"

	"github.com/ayo6706/ramp-ledger/internal/api/handler"
	"github.com/ayo6706/ramp-ledger/internal/api/middleware"
	"github.com/ayo6706/ramp-ledger/internal/api/spec"
	"github.com/ayo6706/ramp-ledger/internal/config"
	"github.com/ayo6706/ramp-ledger/internal/domain"
	"github.com/ayo6706/ramp-ledger/internal/idempotency"
	"github.com/ayo6706/ramp-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the application services the HTTP layer calls into.
type Services struct {
	Accounts    *service.AccountService
	Lifecycle   *service.LifecycleService
	Resolutions *service.ResolutionService
	LedgerCheck *service.LedgerCheckService
	Webhooks    *service.WebhookService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	idemStore *idempotency.Store
	redis     redis.Cmdable
	svcs      Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, idemStore *idempotency.Store, redisClient redis.Cmdable, svcs Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		idemStore: idemStore,
		redis:     redisClient,
		svcs:      svcs,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	authHandler := handler.NewAuthHandler(api.svcs.Accounts, api.cfg.JWTTTL)
	accountHandler := handler.NewAccountHandler(api.svcs.Accounts)
	rampHandler := handler.NewRampHandler(api.svcs.Lifecycle)
	webhookHandler := handler.NewWebhookHandler(api.svcs.Webhooks)
	adminHandler := handler.NewAdminHandler(api.svcs.Accounts, api.svcs.Resolutions, api.svcs.LedgerCheck)

	// Operational routes
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/webhooks/pix", webhookHandler.HandlePixWebhook)
		if api.cfg.EnableSimulation {
			r.Post("/v1/test/simulate-pix", webhookHandler.SimulatePix)
		}
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Accounts
		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)
		r.Get("/v1/accounts/{id}/transactions", accountHandler.ListTransactions)
		r.Put("/v1/accounts/{id}/wallet", accountHandler.SetWallet)

		// Ramp operations
		r.Group(func(r chi.Router) {
			r.Use(middleware.IdempotencyMiddleware(api.idemStore, api.logger))
			r.Post("/v1/deposits", rampHandler.CreateDeposit)
			r.Post("/v1/conversions", rampHandler.Convert)
			r.Post("/v1/liquidations", rampHandler.Liquidate)
			r.Post("/v1/withdrawals", rampHandler.Withdraw)
		})

		// Admin
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/accounts", adminHandler.ListAccounts)
			r.Get("/transactions", adminHandler.ListTransactions)
			r.Get("/sends/held", adminHandler.ListHeldSends)
			r.Post("/sends/{id}/resolve", adminHandler.ResolveSend)
			r.Get("/withdrawals/claimed", adminHandler.ListClaimedWithdrawals)
			r.Post("/withdrawals/{id}/resolve", adminHandler.ResolveWithdrawal)
			r.Get("/ledger/check", adminHandler.CheckLedger)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "Route not found")
	})

	return r
}
