package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/internal/cron"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/migrate"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	must(logg, "load config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	must(logg, "bootstrap database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	must(logg, "run dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	must(logg, "bootstrap redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	queue, err := cart.NewRedisQueue(redisClient, cfg.Cart.PendingOpsTTL)
	must(logg, "build cart queue", err)
	cache, err := cart.NewRedisCache(redisClient, cfg.Cart.CacheTTL)
	must(logg, "build cart cache", err)
	cartService, err := cart.NewService(cart.NewRepository(dbClient.DB()), queue, cache, cfg.Cart,
		metrics.NewCartMetrics(prometheus.DefaultRegisterer), logg)
	must(logg, "build cart service", err)

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	cartSync, err := cron.NewCartSyncJob(cartService, cfg.Cart.SyncBatchSize, logg)
	must(logg, "build cart sync job", err)
	frequent := schedule(logg, redisClient, jobMetrics, "frequent", cfg.Cart.SyncInterval, 2*cfg.Cart.SyncInterval, cartSync)

	outboxRetention, err := cron.NewRetentionJob("outbox-retention", cfg.Outbox.Retention,
		outbox.NewRepository(dbClient.DB()).DeletePublishedBefore, logg)
	must(logg, "build outbox retention job", err)
	notificationRetention, err := cron.NewRetentionJob("notification-retention", cfg.Cron.NotificationRetention,
		notifications.NewRepository(dbClient.DB()).DeleteReadBefore, logg)
	must(logg, "build notification retention job", err)
	daily := schedule(logg, redisClient, jobMetrics, "daily", cfg.Cron.Interval, cfg.Cron.LockTTL, outboxRetention, notificationRetention)

	logg.Info(ctx, "starting cron worker")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return frequent.Run(groupCtx) })
	group.Go(func() error { return daily.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func schedule(logg *logger.Logger, redisClient *redis.Client, m *metrics.JobMetrics, name string, interval, lockTTL time.Duration, jobs ...cron.Job) *cron.Service {
	lock, err := cron.NewRedisLock(redisClient, name, lockTTL)
	must(logg, "create "+name+" lock", err)
	registry, err := cron.NewRegistry(jobs...)
	must(logg, "register "+name+" jobs", err)
	svc, err := cron.NewService(cron.ServiceParams{
		Name:     name,
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Interval: interval,
	})
	must(logg, "create "+name+" schedule", err)
	return svc
}

func must(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to "+step, err)
	os.Exit(1)
}
