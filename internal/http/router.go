package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName    string
	JWTSecret      []byte
	RequestTimeout time.Duration
}

type Handlers struct {
	Movies   *MoviesHandler
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Webhooks *WebhooksHandler
}

func NewRouter(cfg RouterConfig, h Handlers, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	r.Get("/movies", h.Movies.ListMovies)

	// Provider callbacks carry no user token.
	r.Route("/payments/webhook", func(r chi.Router) {
		r.Post("/", h.Webhooks.Generic)
		if h.Webhooks.stripe != nil {
			r.Post("/stripe", h.Webhooks.Stripe)
		}
		if h.Webhooks.omise != nil {
			r.Post("/omise", h.Webhooks.Omise)
		}
	})
	r.Get("/payments/complete", h.Webhooks.PaymentReturn)
	if h.Webhooks.sandbox != nil {
		r.Get("/sandbox/pay/{ref}", h.Webhooks.SandboxPay)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Post("/items", h.Cart.AddItem)
			r.Delete("/items/{movie_id}", h.Cart.RemoveItem)
			r.Delete("/clear", h.Cart.ClearCart)
		})

		r.Post("/checkout", h.Checkout.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
			r.Post("/{order_id}/cancel", h.Orders.CancelOrder)
			r.Post("/{order_id}/pay", h.Orders.Pay)
			r.Post("/{order_id}/refund", h.Orders.Refund)
		})

		r.Get("/payments/history", h.Orders.PaymentHistory)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/payments", h.Orders.AdminPayments)
			r.Get("/carts/{user_id}", h.Cart.AdminGetCart)
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
