package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serotonyl.ru/wallet-ledger/internal/httpapi"
)

// RouteRegistrar вешает маршруты фичи на роутер.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// WebhookRegistrar вешает вебхуки провайдера (без JWT).
type WebhookRegistrar interface {
	RegisterWebhook(r chi.Router)
}

// RouterDeps: всё, что нужно HTTP-роутеру.
type RouterDeps struct {
	Verifier    *httpapi.JWTVerifier
	Webhooks    []WebhookRegistrar
	UserRoutes  []RouteRegistrar // под JWT
	Health      func(ctx context.Context) error
	Timeout     time.Duration
	CORSOrigins []string
}

// NewRouter собирает chi-роутер HTTP API.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpapi.RequestLogger)
	r.Use(middleware.Recoverer)
	if d.Timeout > 0 {
		r.Use(middleware.Timeout(d.Timeout))
	}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				httpapi.Message(w, r, http.StatusServiceUnavailable, "база данных недоступна")
				return
			}
		}
		httpapi.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		for _, wr := range d.Webhooks {
			wr.RegisterWebhook(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(d.Verifier.Middleware)
			for _, rr := range d.UserRoutes {
				rr.RegisterRoutes(r)
			}
		})
	})

	return r
}
