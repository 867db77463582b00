package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/internal/pkg/usercontext"
)

// HandleGetQuota returns the authenticated user's usage snapshot.
func HandleGetQuota(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, plan, err := quotaGuard.Snapshot(c.UserContext(), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	return c.JSON(subscriptionResponse(sub, plan))
}

type channelCheckRequest struct {
	ChannelCount int `json:"channel_count" validate:"gte=0"`
}

// HandleCheckChannel verifies whether the user may create one more channel.
// Channels are not consumable so this is a pure check against the current
// count supplied by the content service.
func HandleCheckChannel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req channelCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	if err := quotaGuard.CheckChannel(c.UserContext(), userCtx.UserID, req.ChannelCount); err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"allowed": true})
}

// HandleConsumeEpisode authorizes and records one episode publication. The
// check and the counter increment are a single atomic operation, so parallel
// publishes cannot overshoot the plan cap.
func HandleConsumeEpisode(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	if err := quotaGuard.CheckAndConsumeEpisode(c.UserContext(), userCtx.UserID); err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(fiber.Map{"allowed": true})
}
