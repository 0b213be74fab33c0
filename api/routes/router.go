package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartbizhq/smartbiz-backend/api/controllers"
	authcontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/auth"
	businesscontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/businesses"
	contactcontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/contacts"
	ordercontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/orders"
	productcontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/products"
	subscriptioncontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/smartbizhq/smartbiz-backend/api/controllers/webhooks"
	"github.com/smartbizhq/smartbiz-backend/api/middleware"
	"github.com/smartbizhq/smartbiz-backend/internal/businesses"
	"github.com/smartbizhq/smartbiz-backend/internal/contacts"
	"github.com/smartbizhq/smartbiz-backend/internal/notifications"
	"github.com/smartbizhq/smartbiz-backend/internal/orders"
	"github.com/smartbizhq/smartbiz-backend/internal/products"
	subscriptionsvc "github.com/smartbizhq/smartbiz-backend/internal/subscriptions"
	"github.com/smartbizhq/smartbiz-backend/internal/users"
	"github.com/smartbizhq/smartbiz-backend/pkg/config"
	"github.com/smartbizhq/smartbiz-backend/pkg/logger"
	"github.com/smartbizhq/smartbiz-backend/pkg/redis"
)

// RouterParams bundles every dependency the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Redis         *redis.Client
	ReadyChecks   map[string]controllers.Pinger
	Metrics       http.Handler
	Users         users.Service
	Businesses    businesses.Service
	Products      products.Service
	Orders        orders.Service
	Contacts      contacts.Service
	Subscriptions subscriptionsvc.Service
	Notifications notifications.Service
	Billing       webhookcontrollers.BillingWebhookService
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.ReadyChecks))
	})

	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/billing", webhookcontrollers.BillingWebhook(p.Billing, cfg.Billing, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, p.Redis, logg)).Post("/login", authcontrollers.Login(p.Users, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, p.Redis, logg)).Post("/register", authcontrollers.Register(p.Users, logg))
		r.Post("/refresh", authcontrollers.Refresh(p.Users, logg))
	})

	// Public storefront endpoints resolve a business by slug; replies
	// arrive from contacts who hold no session.
	r.Route("/api/v1/public", func(r chi.Router) {
		r.Get("/businesses/{slug}", businesscontrollers.PublicStorefront(p.Businesses, logg))
		r.Post("/broadcasts/{broadcastId}/replies", contactcontrollers.ReceiveReply(p.Contacts, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Redis, logg))
		r.Use(middleware.Idempotency(p.Redis, logg))
		r.Use(middleware.RateLimit(cfg.RateLimit, p.Redis, logg))

		r.Route("/v1/auth", func(r chi.Router) {
			r.Post("/logout", authcontrollers.Logout(p.Users, logg))
			r.Post("/change-password", authcontrollers.ChangePassword(p.Users, logg))
			r.Get("/me", authcontrollers.Me(p.Users, logg))
		})

		r.Route("/v1/businesses", func(r chi.Router) {
			r.Post("/", businesscontrollers.Create(p.Businesses, logg))
			r.Get("/", businesscontrollers.ListMine(p.Businesses, logg))
		})

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/", ordercontrollers.ListMine(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(p.Orders, logg))
		})

		r.Route("/v1/plans", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.Plans(p.Subscriptions, logg))
		})

		r.Route("/v1/vendor", func(r chi.Router) {
			r.Use(middleware.BusinessContext(logg))

			r.Get("/business", businesscontrollers.Profile(p.Businesses, logg))
			r.Patch("/business", businesscontrollers.Update(p.Businesses, logg))
			r.Post("/business/active", businesscontrollers.SetActive(p.Businesses, logg))

			r.Route("/products", func(r chi.Router) {
				r.Post("/", productcontrollers.Create(p.Products, logg))
				r.Get("/", productcontrollers.List(p.Products, logg))
				r.Get("/{productId}", productcontrollers.Detail(p.Products, logg))
				r.Patch("/{productId}", productcontrollers.Update(p.Products, logg))
				r.Post("/{productId}/status", productcontrollers.SetStatus(p.Products, logg))
				r.Post("/{productId}/stock", productcontrollers.SetStock(p.Products, logg))
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.ListForBusiness(p.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
				r.Post("/{orderId}/transition", ordercontrollers.Transition(p.Orders, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(p.Orders, logg))
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Post("/", contactcontrollers.Create(p.Contacts, logg))
				r.Get("/", contactcontrollers.List(p.Contacts, logg))
				r.Get("/{contactId}", contactcontrollers.Detail(p.Contacts, logg))
				r.Patch("/{contactId}", contactcontrollers.Update(p.Contacts, logg))
				r.Post("/{contactId}/opt-out", contactcontrollers.SetOptOut(p.Contacts, logg))
				r.Delete("/{contactId}", contactcontrollers.Delete(p.Contacts, logg))
			})

			r.Route("/broadcasts", func(r chi.Router) {
				r.Post("/", contactcontrollers.SendBroadcast(p.Contacts, logg))
				r.Get("/", contactcontrollers.ListBroadcasts(p.Contacts, logg))
				r.Get("/{broadcastId}", contactcontrollers.BroadcastDetail(p.Contacts, logg))
				r.Get("/{broadcastId}/replies", contactcontrollers.ListReplies(p.Contacts, logg))
				r.Post("/{broadcastId}/replies/{replyId}/read", contactcontrollers.MarkReplyRead(p.Contacts, logg))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(p.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
			})

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/usage", subscriptioncontrollers.VendorUsage(p.Subscriptions, logg))
				r.Post("/plan", subscriptioncontrollers.VendorChangePlan(p.Subscriptions, logg))
			})
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Get("/businesses/{slug}", businesscontrollers.PublicStorefront(p.Businesses, logg))
		})
	})

	return r
}
