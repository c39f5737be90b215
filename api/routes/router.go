package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/campusmart-backend/api/controllers"
	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/internal/cart"
	"github.com/angelmondragon/campusmart-backend/internal/checkout"
	"github.com/angelmondragon/campusmart-backend/internal/ledger"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

// Deps carries the services mounted by the API router.
type Deps struct {
	Cart          cart.Service
	Checkout      checkout.Service
	Orders        orders.Service
	Notifications notifications.Service
	Ledger        ledger.Service

	IdempotencyStore redis.IdempotencyStore
	Pingers          map[string]controllers.Pinger
	Gatherer         prometheus.Gatherer
	HTTPMetrics      *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Pingers, logg))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Route patterns are only complete once chi has matched the leaf, so idempotency is attached per route.
	idem := middleware.Idempotency(deps.IdempotencyStore, middleware.DefaultIdempotencyRules(cfg.Eventing.CheckoutKeyTTL), logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(deps.Cart, logg))
			r.Delete("/", controllers.CartClear(deps.Cart, logg))
			r.With(idem).Post("/items", controllers.CartAddItem(deps.Cart, logg))
			r.Patch("/items/{productID}", controllers.CartSetQuantity(deps.Cart, logg))
			r.Delete("/items/{productID}", controllers.CartRemoveItem(deps.Cart, logg))
			r.Post("/items/{productID}/toggle", controllers.CartToggleItem(deps.Cart, logg))
			r.Post("/selection", controllers.CartSelectAll(deps.Cart, logg))
			r.Post("/sync", controllers.CartSync(deps.Cart, logg))
		})

		r.With(idem).Post("/checkout", controllers.CheckoutSubmit(deps.Checkout, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(deps.Orders, logg))
			r.Get("/{orderID}", controllers.OrdersGet(deps.Orders, logg))
			r.With(idem).Post("/{orderID}/confirm", controllers.OrdersConfirmReceipt(deps.Orders, logg))
			r.Get("/{orderID}/track", controllers.OrdersTrack(deps.Orders, cfg.Tracking, cfg.App.AllowedOrigins(), logg))
		})

		r.Route("/dispatch", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.RoleDispatch, logg))
			r.With(idem).Post("/orders/{orderID}/status", controllers.DispatchAdvanceStatus(deps.Orders, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationsList(deps.Notifications, logg))
			r.Post("/read-all", controllers.NotificationsMarkAllRead(deps.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.NotificationsMarkRead(deps.Notifications, logg))
		})

		r.Get("/ledger/balance", controllers.LedgerBalance(deps.Ledger, logg))
	})

	return r
}
