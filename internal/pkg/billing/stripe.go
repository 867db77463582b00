package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podforge/podforge/app/models"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

	// Maximum accepted skew between the signed timestamp and now.
	stripeSignatureTolerance = 5 * time.Minute
)

// StripeConfig carries the injected credentials for the Stripe adapter.
// Credentials are never read from the environment inside the adapter.
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	PublishableKey string
	TestMode       bool

	// APIBaseURL overrides the Stripe endpoint, used by tests.
	APIBaseURL string
}

// StripeGateway implements Gateway against the Stripe REST API.
type StripeGateway struct {
	cfg        StripeConfig
	apiBaseURL string
	httpClient *http.Client

	// now is injected for signature-tolerance tests.
	now func() time.Time
}

// NewStripeGateway builds the Stripe adapter. Construction never fails;
// missing credentials surface as configuration errors on first use so the
// service keeps running with the provider disabled.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = defaultStripeAPIBaseURL
	}
	return &StripeGateway{
		cfg:        cfg,
		apiBaseURL: base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

func (g *StripeGateway) Name() Provider { return ProviderStripe }

func (g *StripeGateway) checkConfigured() error {
	if strings.TrimSpace(g.cfg.SecretKey) == "" {
		return configurationError(ProviderStripe, "secret key is not configured")
	}
	return nil
}

// CreateCheckout opens a Stripe Checkout session in subscription mode. The
// user/plan linkage rides along as session metadata so the webhook can route
// the created subscription back to the local account.
func (g *StripeGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	if err := g.checkConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.PriceRef) == "" {
		return nil, configurationError(ProviderStripe, "no price configured for the requested plan and cycle")
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", params.PriceRef)
	form.Set("line_items[0][quantity]", "1")
	form.Set("customer_email", params.UserEmail)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("metadata[user_id]", strconv.FormatUint(uint64(params.UserID), 10))
	form.Set("metadata[plan_id]", strconv.FormatUint(uint64(params.PlanID), 10))
	form.Set("subscription_data[metadata][user_id]", strconv.FormatUint(uint64(params.UserID), 10))
	form.Set("subscription_data[metadata][plan_id]", strconv.FormatUint(uint64(params.PlanID), 10))
	form.Set("subscription_data[metadata][billing_cycle]", params.BillingCycle)
	if params.TrialDays > 0 {
		form.Set("subscription_data[trial_period_days]", strconv.Itoa(params.TrialDays))
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.do(ctx, http.MethodPost, "/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, transientError(ProviderStripe, "checkout session response missing url", nil)
	}
	return &CheckoutResult{URL: out.URL, SessionID: out.ID}, nil
}

// CancelSubscription cancels the provider subscription. A subscription that
// is already canceled or no longer exists counts as success.
func (g *StripeGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if err := g.checkConfigured(); err != nil {
		return err
	}
	if strings.TrimSpace(externalID) == "" {
		return NotFoundError("subscription has no external id")
	}

	err := g.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(externalID), nil, nil)
	if err == nil {
		return nil
	}
	if KindOf(err) == KindNotFound {
		// Gone on the provider side already.
		return nil
	}
	if strings.Contains(err.Error(), "canceled subscription") {
		return nil
	}
	return err
}

// CreatePortal opens a Stripe billing-portal session for the customer.
func (g *StripeGateway) CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalResult, error) {
	if err := g.checkConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, NotFoundError("subscription has no provider customer id")
	}

	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := g.do(ctx, http.MethodPost, "/billing_portal/sessions", form, &out); err != nil {
		return nil, err
	}
	return &PortalResult{URL: out.URL}, nil
}

// TestConnection hits the account endpoint to confirm the secret key works.
func (g *StripeGateway) TestConnection(ctx context.Context) error {
	if err := g.checkConfigured(); err != nil {
		return err
	}
	return g.do(ctx, http.MethodGet, "/account", nil, nil)
}

// HandleWebhook verifies the Stripe-Signature header before touching the
// payload, then normalizes the three subscription event types.
func (g *StripeGateway) HandleWebhook(rawBody []byte, sig SignatureMaterial) WebhookResult {
	if strings.TrimSpace(g.cfg.WebhookSecret) == "" {
		return WebhookResult{Err: configurationError(ProviderStripe, "webhook secret is not configured")}
	}
	if !g.verifySignature(rawBody, sig.Signature) {
		return WebhookResult{Err: verificationError(ProviderStripe, "invalid webhook signature")}
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object stripeSubscription `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return WebhookResult{Err: verificationError(ProviderStripe, "malformed webhook payload")}
	}

	var typ EventType
	switch payload.Type {
	case "customer.subscription.created":
		typ = EventSubscriptionCreated
	case "customer.subscription.updated":
		typ = EventSubscriptionUpdated
	case "customer.subscription.deleted":
		typ = EventSubscriptionDeleted
	default:
		// Recognized delivery with nothing to apply.
		return WebhookResult{OK: true}
	}

	sub := payload.Data.Object
	ev := &Event{
		Type:               typ,
		SubscriptionID:     sub.ID,
		Status:             mapStripeStatus(sub.Status),
		CustomerID:         sub.Customer,
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		TrialEnd:           unixTime(sub.TrialEnd),
		CanceledAt:         unixTime(sub.CanceledAt),
		Raw: map[string]any{
			"provider_event_id": payload.ID,
			"provider_type":     payload.Type,
			"user_id":           sub.Metadata["user_id"],
			"plan_id":           sub.Metadata["plan_id"],
			"billing_cycle":     sub.Metadata["billing_cycle"],
		},
	}
	return WebhookResult{OK: true, Event: ev}
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Customer           string            `json:"customer"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
}

// verifySignature checks the "t=<ts>,v1=<hex>" header against
// HMAC-SHA256("{t}.{body}", webhookSecret) within the tolerance window.
func (g *StripeGateway) verifySignature(payload []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			if decoded, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, decoded)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := g.now().Sub(time.Unix(tsUnix, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// mapStripeStatus translates Stripe's subscription vocabulary onto the
// canonical status enum. Unrecognized values default to active.
func mapStripeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled":
		return models.SubscriptionStatusCanceled
	case "incomplete_expired":
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusActive
	}
}

func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost {
		// Stripe dedupes replays of the same request by this key.
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transientError(ProviderStripe, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(respBody, out)
	case resp.StatusCode == http.StatusUnauthorized:
		return configurationError(ProviderStripe, "secret key was rejected")
	case resp.StatusCode == http.StatusNotFound:
		return NotFoundError(fmt.Sprintf("stripe resource not found: %s", stripeErrorMessage(respBody)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return transientError(ProviderStripe, fmt.Sprintf("status=%d", resp.StatusCode), nil)
	default:
		return fmt.Errorf("stripe request failed: status=%d message=%s", resp.StatusCode, stripeErrorMessage(respBody))
	}
}

func stripeErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Message == "" {
		return "unknown"
	}
	return e.Error.Message
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
