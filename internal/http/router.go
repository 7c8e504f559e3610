// Package http exposes checkout, orders, payment webhooks and inventory over a chi router.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Checkout  *CheckoutHandler
	Orders    *OrdersHandler
	Webhook   *WebhookHandler
	Inventory *InventoryHandler
}

func NewRouter(h Handlers, requestTimeout time.Duration, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(IdentityMiddleware)
	r.Use(LoggerMiddleware(log))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", h.Checkout.Checkout)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
			r.Post("/{order_id}/retry", h.Checkout.RetryPayment)
			r.Post("/{order_id}/cancel", h.Checkout.CancelCheckout)
		})
		r.Post("/payments/webhook", h.Webhook.PaymentWebhook)
		r.Route("/inventory/{product_id}", func(r chi.Router) {
			r.Get("/", h.Inventory.GetStock)
			r.Post("/adjustments", h.Inventory.Adjust)
			r.Get("/log", h.Inventory.History)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
