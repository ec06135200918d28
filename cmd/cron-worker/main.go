package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/echopay/echopay-backend/internal/bootstrap"
	"github.com/echopay/echopay-backend/internal/cron"
	"github.com/echopay/echopay-backend/internal/reversal"
	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/instance"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
	"github.com/echopay/echopay-backend/pkg/migrate"
	"github.com/echopay/echopay-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	svcs, err := bootstrap.Build(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, svcs)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"jobs":     len(registry.Jobs()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	svcs.Ledger.Wait()

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs *bootstrap.Services) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	escalation, err := cron.NewFraudCaseEscalationJob(svcs.FraudCases, logg)
	if err != nil {
		return nil, err
	}
	registry.Register(escalation)

	if svcs.Confidence != nil {
		automator, err := reversal.NewAutomator(svcs.Reversals, svcs.FraudCases, svcs.Confidence, cfg.Fraud.ConfidenceThreshold, logg)
		if err != nil {
			return nil, err
		}
		job, err := cron.NewAutomatedReversalJob(automator, logg)
		if err != nil {
			return nil, err
		}
		registry.Register(job)
	} else {
		logg.Warn(context.Background(), "cron.automated_reversals_disabled")
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  svcs.Outbox,
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(retention)

	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: svcs.NotifyRepo,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(cleanup)

	return registry, nil
}
