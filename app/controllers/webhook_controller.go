package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/podforge/podforge/internal/pkg/billing"
	"github.com/podforge/podforge/internal/pkg/metrics/counter"
)

// HandleWebhook receives one provider webhook delivery. The raw body is
// passed through untouched so signature verification sees exactly the bytes
// the provider signed.
func HandleWebhook(c *fiber.Ctx) error {
	provider, ok := billing.ParseProvider(c.Params("provider"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": billing.CodeNotFound, "message": "unknown provider"})
	}

	sig := billing.SignatureMaterial{
		Signature:        c.Get("Stripe-Signature"),
		AuthAlgo:         c.Get("Paypal-Auth-Algo"),
		CertURL:          c.Get("Paypal-Cert-Url"),
		TransmissionID:   c.Get("Paypal-Transmission-Id"),
		TransmissionTime: c.Get("Paypal-Transmission-Time"),
	}
	if provider == billing.ProviderPayPal {
		sig.Signature = c.Get("Paypal-Transmission-Sig")
	}

	_ = counter.AddWebhookReceived(string(provider))

	body := c.Body()
	outcome, err := stateMachine.ProcessWebhook(c.UserContext(), provider, body, sig)
	if err != nil {
		_ = counter.AddWebhookRejected(string(provider))
		// A transient failure on our side (remote verify API down, DB error)
		// answers 500 so the provider retries the delivery.
		if billing.KindOf(err) == billing.KindTransientProvider {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": billing.CodeProviderUnavailable, "message": "temporary failure, retry"})
		}
		return billingErrorResponse(c, err)
	}

	if outcome.Duplicate {
		log.Printf("[webhook] %s: duplicate delivery acknowledged", provider)
	}
	if outcome.Applied {
		_ = counter.AddWebhookApplied(string(provider))
	}
	return c.JSON(fiber.Map{"received": true})
}
