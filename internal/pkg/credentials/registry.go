package credentials

import (
	"errors"
	"log"

	"github.com/podforge/podforge/internal/pkg/billing"
	"gorm.io/gorm"
)

// BuildGateways constructs adapters for every enabled provider from stored
// credentials. Providers without stored credentials or with the enabled
// flag off are skipped; a gateway with incomplete credentials is still
// constructed and will answer every operation with a configuration error
// rather than crash the service.
func (s *Store) BuildGateways() []billing.Gateway {
	var gws []billing.Gateway

	if raw, row, err := s.Raw(billing.ProviderStripe); err == nil {
		if row.Enabled {
			gws = append(gws, billing.NewStripeGateway(billing.StripeConfig{
				SecretKey:      raw["secret_key"],
				WebhookSecret:  raw["webhook_secret"],
				PublishableKey: raw["publishable_key"],
				TestMode:       row.TestMode,
			}))
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("credentials: loading stripe gateway: %v", err)
	}

	if raw, row, err := s.Raw(billing.ProviderPayPal); err == nil {
		if row.Enabled {
			gws = append(gws, billing.NewPayPalGateway(billing.PayPalConfig{
				ClientID:     raw["client_id"],
				ClientSecret: raw["client_secret"],
				WebhookID:    raw["webhook_id"],
				TestMode:     row.TestMode,
			}))
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("credentials: loading paypal gateway: %v", err)
	}

	return gws
}
