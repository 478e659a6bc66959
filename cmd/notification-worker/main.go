package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/visitorpass-backend/internal/notifications"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/visitorpass-backend/pkg/pubsub"
	"github.com/angelmondragon/visitorpass-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "notification-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "notification-worker"

	logg = logger.New(logger.Options{
		ServiceName: "notification-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleNotifier, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.NotificationSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "notification subscription", errors.New("subscription not configured"))
	}

	ledger, err := idempotency.NewLedger(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "event ledger", err)

	codec, err := qrtoken.NewCodec(cfg.Checkout.PublicBaseURL, cfg.QR)
	requireResource(ctx, logg, "qr codec", err)

	consumer, err := notifications.NewConsumer(subscription, ledger, codec, notifications.NewSender(cfg.SMTP, logg), logg)
	requireResource(ctx, logg, "notification consumer", err)
	consumer.WithMetrics(metrics.NewNotificationMetrics(prometheus.DefaultRegisterer))

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	requireResource(ctx, logg, "notification worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	if addr := cfg.App.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(runCtx, addr, prometheus.DefaultGatherer); err != nil {
				logg.Error(runCtx, "metrics listener stopped", err)
			}
		}()
	}
	logg.Info(runCtx, "notification worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "notification worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "notification worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
