package router

import (
	"net/http"

	"vision2viral/internal/api/v1/handler"
	"vision2viral/internal/metrics"
	"vision2viral/internal/middleware"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Deps are the services the HTTP API is built from. Limiter may be nil.
type Deps struct {
	Verifier       service.IdentityVerifier
	Spend          handler.Spender
	Billing        handler.BillingSessions
	Accounts       handler.AccountService
	Ledger         handler.LedgerReader
	Webhooks       handler.WebhookProcessor
	Limiter        *middleware.RateLimiter
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// New builds the API handler.
func New(d Deps, logger zerolog.Logger) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())

	generateHandler := handler.NewGenerateHandler(d.Spend, validate, logger)
	billingHandler := handler.NewBillingHandler(d.Billing, validate, logger)
	userHandler := handler.NewUserHandler(d.Accounts, d.Ledger, validate, logger)
	webhookHandler := handler.NewWebhookHandler(d.Webhooks, logger)

	authMiddleware := middleware.AuthMiddleware(d.Verifier, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(d.Metrics.Middleware(routePattern))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// Stripe authenticates with its signature header.
		webhookHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			userHandler.RegisterRoutes(r)
			billingHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitMiddleware(d.Limiter, d.Metrics, logger))
				generateHandler.RegisterRoutes(r)
			})
		})
	})

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	})
	return c.Handler(r)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
