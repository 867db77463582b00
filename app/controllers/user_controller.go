package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/app/models"
	"github.com/podforge/podforge/app/repository"
	"github.com/podforge/podforge/internal/pkg/entitlements"
	"github.com/podforge/podforge/internal/pkg/usercontext"
	"github.com/podforge/podforge/internal/pkg/utils"
)

// HandleGetUserAccount returns account information for the authenticated
// user together with the effective subscription and usage counters.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	sub, plan, err := stateMachine.CurrentSubscription(c.UserContext(), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"avatar_url":           utils.GetGravatarURL(account.Email, 200),
		"status":               account.Status,
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"api_key_prefix":       account.APIKeyPrefix,
		"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
		"subscription":         subscriptionResponse(sub, plan),
	})
}

// HandleGetEntitlements returns the feature flags granted by the caller's
// plan. Inactive subscriptions grant nothing.
func HandleGetEntitlements(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, plan, err := stateMachine.CurrentSubscription(c.UserContext(), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	features := []entitlements.Feature{}
	if sub.IsEntitled() {
		features = append(features, entitlements.List(plan)...)
	}
	return c.JSON(fiber.Map{
		"plan":     plan.Slug,
		"status":   sub.Status,
		"features": features,
	})
}
