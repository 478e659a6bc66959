package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/visitorpass-backend/api/routes"
	"github.com/angelmondragon/visitorpass-backend/internal/checkout"
	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	"github.com/angelmondragon/visitorpass-backend/internal/liveview"
	"github.com/angelmondragon/visitorpass-backend/internal/photos"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/migrate"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/redis"
	"github.com/angelmondragon/visitorpass-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

type changeFeed interface {
	liveview.Feed
	visitors.ChangeNotifier
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, gcsClient.Close()) }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	visitorMetrics := metrics.NewVisitorMetrics(registry)

	var feed changeFeed = liveview.NewRedisFeed(redisClient, logg)
	if cfg.FeatureFlags.UseSQLite {
		feed = liveview.NewMemoryFeed()
	}

	hostRepo := hosts.NewRepository(dbClient.DB())
	hostService, err := hosts.NewService(hostRepo)
	if err != nil {
		return err
	}

	photoService, err := photos.NewService(gcsClient.BucketHandle(cfg.GCS.BucketName), cfg.GCS)
	if err != nil {
		return err
	}

	codec, err := qrtoken.NewCodec(cfg.Checkout.PublicBaseURL, cfg.QR)
	if err != nil {
		return err
	}

	visitorRepo := visitors.NewRepository(dbClient.DB())
	visitorService, err := visitors.NewService(visitors.ServiceParams{
		TxRunner: dbClient,
		Reader:   visitorRepo,
		Outbox:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Hosts:    hostService,
		Photos:   photoService,
		Tokens:   codec,
		Notifier: feed,
		Metrics:  visitorMetrics,
		Logger:   logg,
		Config:   cfg.Checkout,
	})
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(visitorService, cfg.Checkout, visitorMetrics, logg)
	if err != nil {
		return err
	}

	loc, err := cfg.Checkout.Location()
	if err != nil {
		return err
	}
	live, err := liveview.NewSynchronizer(visitorRepo, feed, loc, visitorMetrics, logg)
	if err != nil {
		return err
	}
	go func() {
		if err := live.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "dashboard change watcher stopped", err)
		}
	}()

	addr := ":" + cfg.App.Port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"sqlite":   cfg.FeatureFlags.UseSQLite,
	})
	logg.Info(serverCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			redisClient,
			registry,
			visitorService,
			checkoutService,
			hostService,
			live,
		),
		ReadHeaderTimeout: 10 * time.Second,
		// Dashboard streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
