package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/credentials"
	"github.com/podforge/podforge/internal/pkg/metrics/counter"
)

// HandleAdminListGateways returns masked configuration for every supported
// provider, configured or not.
func HandleAdminListGateways(c *fiber.Ctx) error {
	records, err := credentialStore.List()
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"gateways": records})
}

type gatewayUpsertRequest struct {
	Provider    string                  `json:"provider" validate:"required,oneof=stripe paypal"`
	Enabled     bool                    `json:"enabled"`
	TestMode    bool                    `json:"test_mode"`
	Credentials credentials.Credentials `json:"credentials"`
}

// HandleAdminUpsertGateway stores provider credentials. Incoming masked or
// empty values keep the stored secret, so an admin can resubmit the form
// they were shown without wiping anything. The gateway registry is rebuilt
// immediately so the change takes effect without a restart.
func HandleAdminUpsertGateway(c *fiber.Ctx) error {
	var req gatewayUpsertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	provider, ok := billing.ParseProvider(req.Provider)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "unknown provider"})
	}

	record, err := credentialStore.Upsert(provider, req.Enabled, req.TestMode, req.Credentials)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	gatewayRegistry.Replace(credentialStore.BuildGateways()...)
	log.Printf("[admin] gateway %s updated (enabled=%t test_mode=%t)", provider, req.Enabled, req.TestMode)

	return c.JSON(record)
}

type gatewayActionRequest struct {
	Action   string `json:"action" validate:"required,oneof=test"`
	Provider string `json:"provider" validate:"required,oneof=stripe paypal"`
}

// HandleAdminGatewayAction runs a provider action, currently only a
// connection test with the stored credentials.
func HandleAdminGatewayAction(c *fiber.Ctx) error {
	var req gatewayActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	provider, ok := billing.ParseProvider(req.Provider)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "unknown provider"})
	}

	if err := stateMachine.TestGateway(c.UserContext(), provider); err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"provider": provider, "ok": true})
}

// HandleAdminWebhookStats returns per-provider webhook delivery counters.
func HandleAdminWebhookStats(c *fiber.Ctx) error {
	stats, err := counter.GetWebhookStats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "failed to load webhook stats"})
	}
	return c.JSON(fiber.Map{"webhooks": stats})
}
