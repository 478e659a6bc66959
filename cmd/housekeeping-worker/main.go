package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/visitorpass-backend/internal/housekeeping"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/migrate"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "housekeeping-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "housekeeping-worker"

	logg = logger.New(logger.Options{
		ServiceName: "housekeeping-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
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

	loc, err := cfg.Checkout.Location()
	if err != nil {
		logg.Error(context.Background(), "failed to load facility time zone", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	retention, err := housekeeping.NewOutboxRetentionJob(housekeeping.OutboxRetentionParams{
		Logger:      logg,
		DB:          dbClient,
		Outbox:      outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Retention:   cfg.Housekeeping.OutboxRetention,
	})
	requireResource(logg, "outbox retention job", err)

	overstays, err := housekeeping.NewOverstayJob(visitors.NewRepository(dbClient.DB()), loc, jobMetrics, logg)
	requireResource(logg, "overstay job", err)

	lock, err := housekeeping.NewRedisLock(redisClient, redisClient.LockKey("housekeeping", cfg.App.Env), 0)
	requireResource(logg, "housekeeping lock", err)

	scheduler, err := housekeeping.NewScheduler(housekeeping.SchedulerParams{
		Logger:  logg,
		Lock:    lock,
		Metrics: jobMetrics,
		Entries: []housekeeping.Entry{
			{Job: retention, Every: cfg.Housekeeping.Interval},
			{Job: overstays, Every: cfg.Housekeeping.OverstayInterval},
		},
	})
	requireResource(logg, "housekeeping scheduler", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"serviceKind":    cfg.Service.Kind,
		"retentionEvery": cfg.Housekeeping.Interval.String(),
		"overstayEvery":  cfg.Housekeeping.OverstayInterval.String(),
	})
	if addr := cfg.App.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, prometheus.DefaultGatherer); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}
	logg.Info(ctx, "starting housekeeping worker")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "housekeeping worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "housekeeping worker shutting down gracefully")
}

func requireResource(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name, err)
	os.Exit(1)
}
