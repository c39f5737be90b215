package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/campusmart-backend/api/controllers"
	"github.com/angelmondragon/campusmart-backend/api/routes"
	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/internal/checkout"
	"github.com/angelmondragon/campusmart-backend/internal/ledger"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/migrate"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	must(logg, "load config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	queue, err := cart.NewRedisQueue(redisClient, cfg.Cart.PendingOpsTTL)
	must(logg, "build cart queue", err)
	cache, err := cart.NewRedisCache(redisClient, cfg.Cart.CacheTTL)
	must(logg, "build cart cache", err)
	cartRepo := cart.NewRepository(dbClient.DB())
	cartService, err := cart.NewService(cartRepo, queue, cache, cfg.Cart, metrics.NewCartMetrics(registry), logg)
	must(logg, "build cart service", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	must(logg, "build ledger service", err)

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersRepo := orders.NewRepository(dbClient.DB())
	tracker, err := orders.NewTracker(orders.NewRedisBus(redisClient), ordersRepo, logg)
	must(logg, "build order tracker", err)
	ordersService, err := orders.NewService(ordersRepo, dbClient, emitter, ledgerService, tracker, checkoutMetrics, logg)
	must(logg, "build orders service", err)

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	notificationsService, err := notifications.NewService(notificationsRepo)
	must(logg, "build notifications service", err)

	checkoutService, err := checkout.NewService(checkout.Deps{
		Tx:            dbClient,
		Carts:         cartService,
		CartRepo:      cartRepo,
		Orders:        ordersRepo,
		Notifications: notificationsRepo,
		Records:       checkout.NewRepository(dbClient.DB()),
		Escrow:        ledgerService,
		Outbox:        emitter,
		Metrics:       checkoutMetrics,
		Logger:        logg,
	}, cfg.Checkout)
	must(logg, "build checkout service", err)

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	serverCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			Cart:             cartService,
			Checkout:         checkoutService,
			Orders:           ordersService,
			Notifications:    notificationsService,
			Ledger:           ledgerService,
			IdempotencyStore: redisClient,
			Pingers: map[string]controllers.Pinger{
				"postgres": dbClient.Ping,
				"redis":    redisClient.Ping,
			},
			Gatherer:    registry,
			HTTPMetrics: metrics.NewHTTPMetrics(registry),
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "api server shutdown failed", err)
		}
	}
}

func must(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to "+step, err)
	os.Exit(1)
}
