package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/app/repository"
	"github.com/podforge/podforge/internal/pkg/entitlements"
)

// HandleListPlans returns the purchasable plan catalog. Public, no auth.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetPlanRepository().GetActive()
	if err != nil {
		return billingErrorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(plans))
	for i := range plans {
		p := &plans[i]
		out = append(out, fiber.Map{
			"id":                     p.ID,
			"slug":                   p.Slug,
			"name":                   p.Name,
			"price_monthly_cents":    p.PriceMonthlyCents,
			"price_yearly_cents":     p.PriceYearlyCents,
			"max_channels":           p.MaxChannels,
			"max_episodes_per_month": p.MaxEpisodesPerMonth,
			"max_api_calls":          p.MaxAPICalls,
			"features":               entitlements.List(p),
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}
