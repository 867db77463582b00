package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/quota"
	"github.com/podforge/podforge/internal/pkg/usercontext"
)

// APIQuotaMiddleware meters one API call per request against the user's plan
// cap. The check and the counter increment are one atomic operation.
func APIQuotaMiddleware(guard *quota.Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "authentication required"})
		}

		if err := guard.CheckAndConsumeAPI(c.UserContext(), userID); err != nil {
			var be *billing.Error
			if errors.As(err, &be) {
				body := fiber.Map{"error": be.Code, "message": be.Message}
				if be.Kind == billing.KindQuotaExceeded {
					body["limit"] = be.Limit
					body["used"] = be.Used
				}
				return c.Status(fiber.StatusForbidden).JSON(body)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "quota check failed"})
		}
		return c.Next()
	}
}
