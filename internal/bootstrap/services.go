// Package bootstrap builds the service graph shared by the api and cron binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/broadcaster"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/internal/ledger"
	"github.com/echopay/echopay-backend/internal/notifications"
	"github.com/echopay/echopay-backend/internal/reversal"
	"github.com/echopay/echopay-backend/internal/risk"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/redis"
)

const walletLockStripes = 256

// Services is the wired EchoPay core.
type Services struct {
	Broadcaster   *broadcaster.Broadcaster
	Wallets       wallets.Service
	Ledger        ledger.Service
	Tokens        tokens.Service
	Notifications notifications.Service
	Reversals     reversal.Service
	FraudCases    fraudcases.Service
	CaseRepo      fraudcases.Repository
	Outbox        *outbox.Repository
	NotifyRepo    notifications.Repository
	Confidence    risk.ConfidenceSource
}

// Build wires every core service against one database and Redis client. Metrics register on reg.
func Build(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)
	signer := audit.NewSigner(cfg.Ledger.AuditSigningKey)
	locker := wallets.NewLocker(walletLockStripes)
	walletRepo := wallets.NewRepository(dbClient.DB())
	maxAmount := cfg.Ledger.MaxAmount()

	hub := broadcaster.New(broadcaster.FromConfig(cfg.Broadcaster), logg, metrics.NewBroadcasterMetrics(reg))

	walletSvc, err := wallets.NewService(walletRepo, dbClient, emitter, locker, maxAmount, logg)
	if err != nil {
		return nil, fmt.Errorf("wallets service: %w", err)
	}
	tokenSvc, err := tokens.NewService(tokens.NewRepository(dbClient.DB()), dbClient, emitter, signer, cfg.App.ServiceID, logg)
	if err != nil {
		return nil, fmt.Errorf("tokens service: %w", err)
	}

	riskClient, err := riskClient(cfg.Risk)
	if err != nil {
		return nil, err
	}
	ledgerParams := ledger.ServiceParams{
		Repo:        ledger.NewRepository(dbClient.DB()),
		Wallets:     walletRepo,
		Locker:      locker,
		Tokens:      tokenSvc,
		TxRunner:    dbClient,
		Outbox:      emitter,
		Signer:      signer,
		Publisher:   hub,
		Metrics:     metrics.NewLedgerMetrics(reg),
		Logger:      logg,
		ServiceID:   cfg.App.ServiceID,
		MaxAmount:   maxAmount,
		LockWait:    cfg.Ledger.LockWaitTimeout,
		RiskTimeout: cfg.Ledger.RiskScoreTimeout,
	}
	if riskClient != nil {
		ledgerParams.Scorer = riskClient
	} else {
		logg.Warn(context.Background(), "risk.scoring_disabled")
	}
	ledgerSvc, err := ledger.NewService(ledgerParams)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	notifyRepo := notifications.NewRepository(dbClient.DB())
	notifySvc, err := notifications.NewService(notifyRepo, dbClient, emitter, logg)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	caseRepo := fraudcases.NewRepository(dbClient.DB())
	engine, err := reversal.NewService(reversal.ServiceParams{
		Cases:     caseRepo,
		Ledger:    ledgerSvc,
		Tokens:    tokenSvc,
		TxRunner:  dbClient,
		Outbox:    emitter,
		Notifier:  notifySvc,
		Publisher: hub,
		Tracker:   reversal.NewTracker(),
		Metrics:   metrics.NewReversalMetrics(reg),
		ServiceID: cfg.App.ServiceID,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("reversal engine: %w", err)
	}

	caseParams := fraudcases.ServiceParams{
		Repo:         caseRepo,
		TxRunner:     dbClient,
		Outbox:       emitter,
		Transactions: ledgerSvc,
		Tokens:       tokenSvc,
		Reversals:    engine,
		Notifier:     notifySvc,
		Publisher:    hub,
		Thresholds:   thresholds(cfg.Fraud),
		ServiceID:    cfg.App.ServiceID,
		Logger:       logg,
	}
	if redisClient != nil {
		caseParams.RateLimiter = redisClient
	}
	caseSvc, err := fraudcases.NewService(caseParams)
	if err != nil {
		return nil, fmt.Errorf("fraud case service: %w", err)
	}

	svcs := &Services{
		Broadcaster:   hub,
		Wallets:       walletSvc,
		Ledger:        ledgerSvc,
		Tokens:        tokenSvc,
		Notifications: notifySvc,
		Reversals:     engine,
		FraudCases:    caseSvc,
		CaseRepo:      caseRepo,
		Outbox:        outboxRepo,
		NotifyRepo:    notifyRepo,
	}
	if riskClient != nil {
		var cache redis.Cache
		if redisClient != nil {
			cache = redisClient
		}
		svcs.Confidence = risk.NewCachedConfidence(riskClient, cache, cfg.Risk.ConfidenceTTL, logg)
	}
	return svcs, nil
}

// riskClient returns nil when no scoring endpoint is configured.
func riskClient(cfg config.RiskConfig) (*risk.HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, nil
	}
	client, err := risk.NewHTTPClient(cfg.BaseURL, risk.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("risk client: %w", err)
	}
	return client, nil
}

func thresholds(cfg config.FraudConfig) fraudcases.Thresholds {
	return fraudcases.Thresholds{
		MinDescription:  cfg.MinDescriptionLength,
		MaxDescription:  cfg.MaxDescriptionLength,
		CriticalAmount:  decimal.NewFromFloat(cfg.CriticalAmount),
		HighAmount:      decimal.NewFromFloat(cfg.HighAmount),
		EscalationAfter: cfg.EscalationAfter,
		AutomatedMinAge: cfg.AutomatedMinAge,
		ReportsPerHour:  cfg.ReportsPerHour,
		AutomatedLimit:  cfg.AutomatedSweepMaxCase,
	}
}
