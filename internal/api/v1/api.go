package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the ping endpoint response body.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists every operation of the versioned integration API.
type ServerInterface interface {
	// GetPing reports service liveness.
	GetPing(c *fiber.Ctx) error
	// GetUserProfile returns the authenticated account with its
	// subscription, limits and usage.
	GetUserProfile(c *fiber.Ctx) error
	// GetEntitlements returns the feature flags granted by the caller's plan.
	GetEntitlements(c *fiber.Ctx) error
}

// RegisterHandlers attaches all integration API operations to the router
// group. Authentication and metering middlewares are expected to already be
// installed on the group.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)
	router.Get("/user/profile", si.GetUserProfile)
	router.Get("/user/entitlements", si.GetEntitlements)
}
