package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mohsenbt/marzsell/app/controllers"
	"github.com/mohsenbt/marzsell/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))

	v1 := api.Group("/v1")

	// Login is the only unauthenticated endpoint and gets a tighter limit
	// against credential stuffing.
	v1.Post("/auth/login", limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
	}), controllers.HandleAPILogin)

	authed := v1.Group("", middleware.OperatorAuthMiddleware())

	// Panels
	authed.Get("/panels", controllers.HandleListPanels)
	authed.Post("/panels", middleware.RequireAdmin, controllers.HandleCreatePanel)
	authed.Get("/panels/:id", controllers.HandleGetPanel)
	authed.Put("/panels/:id", middleware.RequireAdmin, controllers.HandleUpdatePanel)
	authed.Delete("/panels/:id", middleware.RequireAdmin, controllers.HandleDeletePanel)
	authed.Post("/panels/:id/test", middleware.RequireAdmin, controllers.HandleTestPanel)

	// Plans
	authed.Get("/plans", controllers.HandleListPlans)
	authed.Post("/plans", middleware.RequireAdmin, controllers.HandleCreatePlan)
	authed.Get("/plans/:id", controllers.HandleGetPlan)
	authed.Put("/plans/:id", middleware.RequireAdmin, controllers.HandleUpdatePlan)
	authed.Delete("/plans/:id", middleware.RequireAdmin, controllers.HandleDeletePlan)

	// Payments. The aggregates route must come before the :id routes.
	authed.Get("/payments/aggregates", controllers.HandlePaymentAggregates)
	authed.Get("/payments", controllers.HandleListPayments)
	authed.Get("/payments/:id", controllers.HandleGetPayment)
	authed.Get("/payments/:id/receipt", controllers.HandleGetPaymentReceipt)
	authed.Post("/payments/:id/approve", middleware.RequireAdmin, controllers.HandleApprovePayment)
	authed.Post("/payments/:id/reject", middleware.RequireAdmin, controllers.HandleRejectPayment)
	authed.Post("/payments/:id/refund", middleware.RequireAdmin, controllers.HandleRefundPayment)

	// Subscriptions. Sync and reap are collection-level maintenance actions.
	authed.Post("/subscriptions/sync", middleware.RequireAdmin, controllers.HandleSyncSubscriptions)
	authed.Post("/subscriptions/reap", middleware.RequireAdmin, controllers.HandleReapSubscriptions)
	authed.Get("/subscriptions", controllers.HandleListSubscriptions)
	authed.Get("/subscriptions/:id", controllers.HandleGetSubscription)
	authed.Delete("/subscriptions/:id", middleware.RequireAdmin, controllers.HandleTerminateSubscription)
	authed.Post("/subscriptions/:id/renew", middleware.RequireAdmin, controllers.HandleRenewSubscription)

	// Customers
	authed.Get("/customers", controllers.HandleListCustomers)
	authed.Get("/customers/:id", controllers.HandleGetCustomer)
	authed.Put("/customers/:id/block", middleware.RequireAdmin, controllers.HandleBlockCustomer)

	// Reconcile dead-letter list
	authed.Get("/reconcile", controllers.HandleListReconcile)
	authed.Post("/reconcile/:id/retry", middleware.RequireAdmin, controllers.HandleRetryReconcile)
	authed.Post("/reconcile/:id/resolve", middleware.RequireAdmin, controllers.HandleResolveReconcile)

	// Shop settings
	authed.Get("/settings", controllers.HandleGetSettings)
	authed.Put("/settings", middleware.RequireAdmin, controllers.HandleUpdateSettings)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
