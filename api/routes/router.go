package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dissertia/dissertia-api/api/controllers"
	billingcontrollers "github.com/dissertia/dissertia-api/api/controllers/billing"
	subscriptioncontrollers "github.com/dissertia/dissertia-api/api/controllers/subscriptions"
	webhookcontrollers "github.com/dissertia/dissertia-api/api/controllers/webhooks"
	"github.com/dissertia/dissertia-api/api/middleware"
	"github.com/dissertia/dissertia-api/internal/auth"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/internal/essays"
	"github.com/dissertia/dissertia-api/internal/plans"
	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/pkg/auth/session"
	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/redis"
)

// Store is the Redis surface shared by rate limiting and request idempotency.
type Store interface {
	redis.RateLimiter
	redis.IdempotencyStore
}

// Billing covers the transaction and audit reads.
type Billing interface {
	billingcontrollers.TransactionLister
	subscriptioncontrollers.HistoryReader
}

// Params carries every handle the router wires. Stripe handles may be nil
// when billing is not configured; the webhook then answers 500.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Store    Store
	Sessions session.Checker
	Metrics  http.Handler

	Auth          auth.Service
	Entitlements  entitlements.Service
	Usage         usage.Service
	Plans         plans.Service
	Subscriptions subscriptioncontrollers.Service
	Billing       Billing
	Essays        essays.Service

	StripeEvents   webhookcontrollers.EventHandler
	StripeVerifier webhookcontrollers.EventVerifier
	StripeGuard    webhookcontrollers.EventGuard
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	limits := cfg.AuthRateLimit
	loginLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:       "login",
		Window:     limits.LoginWindow,
		IPLimit:    limits.LoginIPLimit,
		EmailLimit: limits.LoginEmailLimit,
	}, p.Store, logg)
	registerLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:       "register",
		Window:     limits.RegisterWindow,
		IPLimit:    limits.RegisterIPLimit,
		EmailLimit: limits.RegisterEmailLimit,
	}, p.Store, logg)
	feedbackLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:      "feedback",
		Window:    limits.FeedbackWindow,
		UserLimit: limits.FeedbackUserLimit,
	}, p.Store, logg)
	idempotent := middleware.Idempotent(p.Store, cfg.Eventing.RequestIdempotencyTTL, logg)

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessChecks(p)))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/plans", billingcontrollers.PublicPlans(p.Plans, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeEvents, p.StripeVerifier, p.StripeGuard, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(registerLimit).Post("/register", controllers.AuthRegister(p.Auth, logg))
		r.With(loginLimit).Post("/login", controllers.AuthLogin(p.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(p.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(p.Auth, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))

		r.Get("/entitlement", controllers.Entitlement(p.Entitlements, logg))
		r.Get("/usage/history", controllers.UsageHistory(p.Usage, logg))
		r.Get("/billing/transactions", billingcontrollers.Transactions(p.Billing, logg))

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.Fetch(p.Subscriptions, logg))
			r.Get("/history", subscriptioncontrollers.History(p.Subscriptions, p.Billing, logg))
			r.With(idempotent).Post("/cancel", subscriptioncontrollers.Cancel(p.Subscriptions, logg))
			r.With(idempotent).Post("/reactivate", subscriptioncontrollers.Reactivate(p.Subscriptions, logg))
		})

		// replays are served before the quota gate so a charged retry is not refused
		r.With(
			feedbackLimit,
			idempotent,
			middleware.RequireAIEntitlement(p.Entitlements, logg),
		).Post("/essays/feedback", controllers.EssayFeedback(p.Essays, logg))
	})

	return r
}

func readinessChecks(p Params) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{"db": p.DB}
	if pinger, ok := p.Store.(controllers.Pinger); ok {
		checks["redis"] = pinger
	} else {
		checks["redis"] = nil
	}
	return checks
}
