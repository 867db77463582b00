package billing

import "time"

// Provider enumerates the supported payment gateways. The set is closed:
// adding a provider means adding an adapter and a registry entry, not a new
// string at a call site.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// ParseProvider maps a boundary string onto the closed provider set.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderStripe:
		return ProviderStripe, true
	case ProviderPayPal:
		return ProviderPayPal, true
	default:
		return "", false
	}
}

// EventType enumerates the canonical subscription event types. Adapters fold
// every provider vocabulary into these three; anything else is acknowledged
// and dropped.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
)

// Event is the provider-agnostic representation of a billing state change
// produced from a verified webhook. Raw retains provider-specific metadata
// (for example the userId/planId carried through checkout) without widening
// the canonical shape.
type Event struct {
	Type               EventType
	SubscriptionID     string
	Status             string
	CustomerID         string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	// TrialEnd is set only when the provider subscription actually carries a
	// trial. Status alone does not prove a trial grant; some providers use
	// trial-like statuses for pending approval.
	TrialEnd   *time.Time
	CanceledAt *time.Time
	Raw        map[string]any
}

// SignatureMaterial carries the provider-specific authentication headers of
// a webhook delivery. Stripe uses the single HMAC header; PayPal sends a
// multi-header transmission bundle.
type SignatureMaterial struct {
	Signature string

	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionTime string
}

// WebhookResult is the outcome of adapter webhook handling. OK=false means
// verification or parsing failed and nothing may be mutated. OK=true with a
// nil Event means the delivery was recognized but carries nothing to apply.
type WebhookResult struct {
	OK    bool
	Event *Event
	Err   error
}

// CheckoutParams describes a hosted-checkout session request.
type CheckoutParams struct {
	PlanID       uint
	PriceRef     string
	UserID       uint
	UserEmail    string
	BillingCycle string
	SuccessURL   string
	CancelURL    string
	TrialDays    int
}

// CheckoutResult is the redirect target of a created checkout session.
type CheckoutResult struct {
	URL       string
	SessionID string
}

// PortalResult is the redirect target of a billing-portal session.
type PortalResult struct {
	URL string
}
