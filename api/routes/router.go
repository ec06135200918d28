package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/echopay/echopay-backend/api/controllers"
	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/internal/ledger"
	"github.com/echopay/echopay-backend/internal/notifications"
	"github.com/echopay/echopay-backend/internal/reversal"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
)

// redisStore is the slice of pkg/redis.Client the HTTP layer uses.
type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	ledgerService ledger.Service,
	walletService wallets.Service,
	tokenService tokens.Service,
	fraudService fraudcases.Service,
	reversalService reversal.Service,
	notificationsService notifications.Service,
	hub controllers.Subscriber,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	writePolicy := middleware.NewRateLimitPolicy("writes", cfg.API.WriteRateWindow, cfg.API.WriteRateLimit)
	writeLimit := middleware.RateLimit(writePolicy, redisClient, logg)
	staff := middleware.RequireRole(logg, enums.ActorRoleArbitrator, enums.ActorRoleAdmin)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisClient,
		}))
	})

	if cfg.Metrics.Enabled && metricsHandler != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Idempotency(redisClient, logg),
		)

		r.Get("/stream", controllers.StatusStream(hub, cfg.API.StreamPingPeriod, logg))

		r.Route("/transactions", func(r chi.Router) {
			r.With(writeLimit).Post("/", controllers.CreateTransaction(ledgerService, logg))
			r.With(staff).Get("/pending", controllers.ListPendingTransactions(ledgerService, logg))
			r.Get("/{transactionId}", controllers.GetTransaction(ledgerService, logg))
			r.Get("/{transactionId}/audit", controllers.GetTransactionAudit(ledgerService, logg))
		})

		r.Route("/wallets/{walletId}", func(r chi.Router) {
			r.Get("/transactions", controllers.ListWalletTransactions(ledgerService, logg))
			r.Get("/balances", controllers.GetWalletBalances(ledgerService, logg))
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", controllers.ListTokens(tokenService, logg))
			r.Get("/{tokenId}", controllers.GetToken(tokenService, logg))
			r.With(writeLimit).Post("/{tokenId}/transfer", controllers.TransferToken(tokenService, logg))
		})

		r.Route("/fraud-reports", func(r chi.Router) {
			r.Post("/", controllers.SubmitFraudReport(fraudService, logg))
			r.Get("/", controllers.ListMyFraudReports(fraudService, logg))
			r.Get("/{caseId}", controllers.GetFraudReport(fraudService, logg))
			r.Post("/{caseId}/evidence", controllers.AddCaseEvidence(fraudService, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
		})
	})

	r.Route("/api/arbitration/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			staff,
			middleware.Idempotency(redisClient, logg),
		)
		r.Get("/statistics", controllers.CaseStatistics(fraudService, logg))
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", controllers.ListArbitratorCases(fraudService, logg))
			r.Get("/unassigned", controllers.ListUnassignedCases(fraudService, logg))
			r.Post("/{caseId}/assign", controllers.AssignCase(fraudService, logg))
			r.Post("/{caseId}/decision", controllers.DecideCase(fraudService, logg))
			r.Post("/{caseId}/evidence", controllers.AddCaseEvidence(fraudService, logg))
			r.Post("/{caseId}/close", controllers.CloseCase(fraudService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.ActorRoleAdmin),
			middleware.Idempotency(redisClient, logg),
		)
		r.Post("/wallets/{walletId}/funds", controllers.AddWalletFunds(walletService, cfg.App.ServiceID, logg))

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/issue", controllers.IssueTokens(tokenService, logg))
			r.Post("/bulk-status", controllers.BulkTokenStatus(tokenService, logg))
			r.Post("/{tokenId}/freeze", controllers.TokenAction(tokenService, "freeze", logg))
			r.Post("/{tokenId}/unfreeze", controllers.TokenAction(tokenService, "unfreeze", logg))
			r.Post("/{tokenId}/destroy", controllers.TokenAction(tokenService, "destroy", logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/stats", controllers.TransactionStats(ledgerService, logg))
			r.Post("/{transactionId}/fraud-score", controllers.SetFraudScore(ledgerService, logg))
			r.Post("/{transactionId}/status", controllers.UpdateTransactionStatus(ledgerService, logg))
		})

		r.Route("/reversals", func(r chi.Router) {
			r.Post("/", controllers.ExecuteReversal(reversalService, logg))
			r.Get("/stats", controllers.ReversalStats(reversalService))
		})
	})

	return r
}
