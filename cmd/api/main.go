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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dissertia/dissertia-api/api/routes"
	"github.com/dissertia/dissertia-api/internal/auth"
	"github.com/dissertia/dissertia-api/internal/billing"
	"github.com/dissertia/dissertia-api/internal/entitlements"
	"github.com/dissertia/dissertia-api/internal/essays"
	"github.com/dissertia/dissertia-api/internal/plans"
	"github.com/dissertia/dissertia-api/internal/subscriptions"
	"github.com/dissertia/dissertia-api/internal/usage"
	"github.com/dissertia/dissertia-api/internal/users"
	stripewebhook "github.com/dissertia/dissertia-api/internal/webhooks/stripe"
	"github.com/dissertia/dissertia-api/pkg/auth/session"
	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/dissertia/dissertia-api/pkg/db"
	"github.com/dissertia/dissertia-api/pkg/logger"
	"github.com/dissertia/dissertia-api/pkg/metrics"
	"github.com/dissertia/dissertia-api/pkg/migrate"
	"github.com/dissertia/dissertia-api/pkg/redis"
	"github.com/dissertia/dissertia-api/pkg/security"
	pkgstripe "github.com/dissertia/dissertia-api/pkg/stripe"
	"github.com/dissertia/dissertia-api/pkg/vertexai"
)

const shutdownTimeout = 15 * time.Second

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

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	usageMetrics := metrics.NewUsageMetrics(registry)

	userRepo := users.NewRepository(dbClient.DB())
	billingRepo := billing.NewRepository(dbClient.DB())

	planService, err := plans.NewService(plans.ServiceParams{
		Repo:   plans.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	mustBuild(ctx, logg, "plan service", err)
	if cfg.FeatureFlags.SeedPlans {
		if err := planService.Seed(ctx); err != nil {
			logg.Error(ctx, "failed to seed plan catalog", err)
			os.Exit(1)
		}
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	mustBuild(ctx, logg, "session manager", err)

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		SessionManager: sessionManager,
		Hasher:         security.NewHasher(cfg.Password),
		JWTConfig:      cfg.JWT,
		Logger:         logg,
	})
	mustBuild(ctx, logg, "auth service", err)

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:              usage.NewRepository(dbClient.DB()),
		Users:             userRepo,
		Subscriptions:     billingRepo,
		TransactionRunner: dbClient,
		WindowLength:      cfg.Entitlements.UsageWindow(),
		Metrics:           usageMetrics,
		Logger:            logg,
	})
	mustBuild(ctx, logg, "usage service", err)

	entitlementService, err := entitlements.NewService(entitlements.ServiceParams{
		Users:         userRepo,
		Subscriptions: billingRepo,
		Plans:         planService,
		Usage:         usageService,
		FreePlanID:    cfg.Entitlements.FreePlanID,
		WindowLength:  cfg.Entitlements.UsageWindow(),
		FailOpen:      cfg.Entitlements.FailOpenOnErrors,
		Metrics:       usageMetrics,
		Logger:        logg,
	})
	mustBuild(ctx, logg, "entitlement service", err)

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	mustBuild(ctx, logg, "billing service", err)

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	switch {
	case errors.Is(err, pkgstripe.ErrNotConfigured):
		logg.Warn(ctx, "stripe not configured; webhooks disabled and cancellations stay local")
		stripeClient = nil
	case err != nil:
		logg.Error(ctx, "failed to initialize stripe", err)
		os.Exit(1)
	}

	subscriptionParams := subscriptions.ServiceParams{
		BillingRepo:       billingRepo,
		TransactionRunner: dbClient,
		Prices: subscriptions.PriceCatalog{
			MonthlyPriceID: cfg.Stripe.MonthlyPriceID,
			YearlyPriceID:  cfg.Stripe.YearlyPriceID,
			MonthlyPlanID:  plans.PlanProMonthly,
			YearlyPlanID:   plans.PlanProYearly,
		},
		Logger: logg,
	}
	if stripeClient != nil && cfg.Stripe.PushCancellations {
		subscriptionParams.StripeClient = subscriptions.NewStripeClient(stripeClient)
	}
	subscriptionService, err := subscriptions.NewService(subscriptionParams)
	mustBuild(ctx, logg, "subscription service", err)

	routeParams := routes.Params{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Store:         redisClient,
		Sessions:      sessionManager,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Auth:          authService,
		Entitlements:  entitlementService,
		Usage:         usageService,
		Plans:         planService,
		Subscriptions: subscriptionService,
		Billing:       billingService,
	}

	if stripeClient != nil {
		webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
			Subscriptions: subscriptionService,
			Ledger:        billingService,
			Customers:     userRepo,
			Billing:       billingRepo,
			Charges:       stripeClient,
			Logger:        logg,
		})
		mustBuild(ctx, logg, "stripe webhook service", err)
		guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
		mustBuild(ctx, logg, "stripe event guard", err)

		routeParams.StripeEvents = webhookService
		routeParams.StripeVerifier = stripeClient
		routeParams.StripeGuard = guard
	}

	if cfg.AI.Enabled() {
		completer, err := vertexai.New(ctx, cfg.AI, logg)
		mustBuild(ctx, logg, "vertex ai client", err)
		defer func() {
			if err := completer.Close(); err != nil {
				logg.Error(context.Background(), "error closing vertex ai client", err)
			}
		}()

		inPrice, outPrice, err := cfg.AI.Pricing()
		mustBuild(ctx, logg, "ai pricing", err)
		essayService, err := essays.NewService(essays.ServiceParams{
			Entitlements: entitlementService,
			Usage:        usageService,
			Completer:    completer,
			Pricing:      essays.Pricing{InputPer1K: inPrice, OutputPer1K: outPrice},
			Timeout:      cfg.AI.Timeout,
			Metrics:      usageMetrics,
			Logger:       logg,
			Claims:       redisClient,
		})
		mustBuild(ctx, logg, "essay service", err)
		routeParams.Essays = essayService
	} else {
		logg.Warn(ctx, "vertex ai not configured; essay feedback disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(routeParams),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AI.Timeout + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "graceful shutdown failed", err)
		}
	}
}

func mustBuild(ctx context.Context, logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to create "+what, err)
	os.Exit(1)
}
