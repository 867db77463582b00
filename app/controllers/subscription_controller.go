package controllers

import (
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/app/models"
	"github.com/podforge/podforge/app/repository"
	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/cache"
	"github.com/podforge/podforge/internal/pkg/entitlements"
	"github.com/podforge/podforge/internal/pkg/usercontext"
)

var validate = validator.New()

type checkoutRequest struct {
	PlanID       uint   `json:"plan_id" validate:"required,gt=0"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	Gateway      string `json:"gateway" validate:"required,oneof=stripe paypal"`
	SuccessURL   string `json:"success_url" validate:"required,url"`
	CancelURL    string `json:"cancel_url" validate:"required,url"`
}

// HandleCheckout starts a hosted checkout session for the authenticated user.
func HandleCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	provider, ok := billing.ParseProvider(req.Gateway)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "unknown gateway"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	result, err := stateMachine.Checkout(c.UserContext(), user.ID, user.Email, req.PlanID, req.BillingCycle, provider, req.SuccessURL, req.CancelURL)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"checkout_url": result.URL,
		"session_id":   result.SessionID,
	})
}

// HandleCancel cancels the authenticated user's subscription at the provider
// and marks it canceled locally. Paid access continues until period end.
func HandleCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, err := stateMachine.Cancel(c.UserContext(), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"status":             sub.Status,
		"canceled_at":        formatTimePtr(sub.CanceledAt),
		"current_period_end": formatTimePtr(sub.CurrentPeriodEnd),
	})
}

type portalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// HandlePortal returns a provider-hosted billing management URL.
func HandlePortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req portalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	result, err := stateMachine.Portal(c.UserContext(), userCtx.UserID, req.ReturnURL)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{"portal_url": result.URL})
}

// HandleGetSubscription returns the authenticated user's effective
// subscription: status, plan limits, usage counters and granted features.
// Users without a row get the implicit free tier.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	// Snapshot cache; invalidated on every subscription mutation.
	var cached fiber.Map
	if ok, err := cache.GetSubscriptionSnapshot(userCtx.UserID, &cached); err == nil && ok {
		return c.JSON(cached)
	}

	sub, plan, err := stateMachine.CurrentSubscription(c.UserContext(), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	resp := subscriptionResponse(sub, plan)
	if err := cache.SetSubscriptionSnapshot(userCtx.UserID, resp); err != nil {
		log.Printf("[API] Failed to cache subscription snapshot for user %d: %v", userCtx.UserID, err)
	}
	return c.JSON(resp)
}

func subscriptionResponse(sub *models.Subscription, plan *models.Plan) fiber.Map {
	return fiber.Map{
		"status":               sub.Status,
		"billing_cycle":        sub.BillingCycle,
		"gateway":              sub.Gateway,
		"current_period_start": formatTimePtr(sub.CurrentPeriodStart),
		"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		"trial_ends_at":        formatTimePtr(sub.TrialEndsAt),
		"canceled_at":          formatTimePtr(sub.CanceledAt),
		"plan": fiber.Map{
			"id":                  plan.ID,
			"slug":                plan.Slug,
			"name":                plan.Name,
			"price_monthly_cents": plan.PriceMonthlyCents,
			"price_yearly_cents":  plan.PriceYearlyCents,
			"features":            entitlements.List(plan),
		},
		"limits": fiber.Map{
			"max_channels":           plan.MaxChannels,
			"max_episodes_per_month": plan.MaxEpisodesPerMonth,
			"max_api_calls":          plan.MaxAPICalls,
		},
		"usage": fiber.Map{
			"episodes_created": sub.EpisodesCreated,
			"api_calls_used":   sub.APICallsUsed,
			"usage_reset_at":   sub.UsageResetAt.UTC().Format(time.RFC3339),
		},
	}
}
