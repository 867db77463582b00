package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	apiv1 "github.com/podforge/podforge/internal/api/v1"
	"github.com/podforge/podforge/app/controllers"
	"github.com/podforge/podforge/internal/pkg/env"
	"github.com/podforge/podforge/internal/pkg/middleware"
	"github.com/podforge/podforge/internal/pkg/quota"
)

type ApiRouter struct {
	guard *quota.Guard
}

func NewApiRouter(guard *quota.Guard) *ApiRouter {
	return &ApiRouter{guard: guard}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PodForge API",
		})
	})

	v1 := api.Group("/v1")

	// Webhook deliveries carry no API key; authenticity comes from the
	// signature check inside the handler. Rate limited per source IP with
	// shared Redis state so all instances count together.
	webhooks := v1.Group("/webhooks", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	webhooks.Post("/:provider", controllers.HandleWebhook)

	// Public catalog
	v1.Get("/plans", controllers.HandleListPlans)

	// Billing management, API-key authenticated but not metered: a user must
	// always be able to see and change their subscription.
	sub := v1.Group("/subscription", middleware.APIKeyAuthMiddleware())
	sub.Get("/", controllers.HandleGetSubscription)
	sub.Post("/checkout", controllers.HandleCheckout)
	sub.Post("/cancel", controllers.HandleCancel)
	sub.Post("/portal", controllers.HandlePortal)

	qt := v1.Group("/quota", middleware.APIKeyAuthMiddleware())
	qt.Get("/", controllers.HandleGetQuota)
	qt.Post("/channels/check", controllers.HandleCheckChannel)
	qt.Post("/episodes", controllers.HandleConsumeEpisode)

	// Admin gateway management
	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin)
	admin.Get("/gateways", controllers.HandleAdminListGateways)
	admin.Put("/gateways", controllers.HandleAdminUpsertGateway)
	admin.Post("/gateways", controllers.HandleAdminGatewayAction)
	admin.Get("/webhooks/stats", controllers.HandleAdminWebhookStats)

	// Versioned integration API. Metered: every call consumes one unit of
	// the plan's API quota, so plans without API access are denied here.
	integration := v1.Group("", middleware.APIKeyAuthMiddleware(), middleware.APIQuotaMiddleware(h.guard))
	apiServer := apiv1.NewAPIServer()
	apiv1.RegisterHandlers(integration, apiServer)
}

// newLimiterStorage backs the limiter with the same Redis the cache uses,
// on database 2 so limiter keys never collide with cached snapshots.
func newLimiterStorage() fiber.Storage {
	port := 6379
	if v, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379")); err == nil {
		port = v
	}
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 2,
	})
}
