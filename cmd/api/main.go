package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartbizhq/smartbiz-backend/api/controllers"
	"github.com/smartbizhq/smartbiz-backend/api/routes"
	"github.com/smartbizhq/smartbiz-backend/internal/billing"
	"github.com/smartbizhq/smartbiz-backend/internal/businesses"
	"github.com/smartbizhq/smartbiz-backend/internal/contacts"
	"github.com/smartbizhq/smartbiz-backend/internal/inventory"
	"github.com/smartbizhq/smartbiz-backend/internal/notifications"
	"github.com/smartbizhq/smartbiz-backend/internal/orders"
	"github.com/smartbizhq/smartbiz-backend/internal/products"
	"github.com/smartbizhq/smartbiz-backend/internal/subscriptions"
	"github.com/smartbizhq/smartbiz-backend/internal/users"
	"github.com/smartbizhq/smartbiz-backend/pkg/config"
	"github.com/smartbizhq/smartbiz-backend/pkg/db"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/metrics"
	"github.com/smartbizhq/smartbiz-backend/pkg/migrate"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox"
	"github.com/smartbizhq/smartbiz-backend/pkg/outbox/idempotency"
	"github.com/smartbizhq/smartbiz-backend/pkg/redis"
)

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
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	domainMetrics := metrics.NewDomainMetrics(registry)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	replayGuard, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create replay guard", err)
		os.Exit(1)
	}

	usersService, err := users.NewService(users.ServiceParams{
		Repo:           users.NewRepository(dbClient.DB()),
		Sessions:       redisClient,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create user service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptions.NewService(subscriptions.NewRepository(dbClient.DB()), dbClient, outboxSvc, domainMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	businessesService, err := businesses.NewService(businesses.NewRepository(dbClient.DB()), dbClient, subscriptionsService)
	if err != nil {
		logg.Error(context.Background(), "failed to create business service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	productsService, err := products.NewService(products.NewRepository(dbClient.DB()), dbClient, businessesService, inventoryService)
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxSvc, inventoryService, subscriptionsService, domainMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	contactsService, err := contacts.NewService(contacts.NewRepository(dbClient.DB()), dbClient, outboxSvc, subscriptionsService)
	if err != nil {
		logg.Error(context.Background(), "failed to create contact service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Logger: logg,
		Ledger: subscriptionsService,
		Replay: replayGuard,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			Redis:  redisClient,
			ReadyChecks: map[string]controllers.Pinger{
				"postgres": dbClient,
				"redis":    redisClient,
			},
			Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Users:         usersService,
			Businesses:    businessesService,
			Products:      productsService,
			Orders:        ordersService,
			Contacts:      contactsService,
			Subscriptions: subscriptionsService,
			Notifications: notificationsService,
			Billing:       billingService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
