package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/podforge/podforge/internal/pkg/billing"
)

// billingErrorResponse maps the billing error taxonomy onto HTTP status codes
// and a stable JSON error envelope. Unknown errors become 500 without
// leaking internals.
func billingErrorResponse(c *fiber.Ctx, err error) error {
	var be *billing.Error
	if errors.As(err, &be) {
		status := statusForKind(be.Kind)
		body := fiber.Map{"error": be.Code, "message": be.Message}
		if be.Kind == billing.KindQuotaExceeded {
			body["limit"] = be.Limit
			body["used"] = be.Used
		}
		return c.Status(status).JSON(body)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": billing.CodeNotFound, "message": "not found"})
	}
	log.Printf("unhandled billing error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "internal server error"})
}

func statusForKind(kind billing.Kind) int {
	switch kind {
	case billing.KindConfiguration:
		return fiber.StatusServiceUnavailable
	case billing.KindVerification:
		return fiber.StatusBadRequest
	case billing.KindNotFound:
		return fiber.StatusNotFound
	case billing.KindStateConflict:
		return fiber.StatusConflict
	case billing.KindTransientProvider:
		return fiber.StatusBadGateway
	case billing.KindQuotaExceeded:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
