package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/podforge/podforge/app/models"
)

const (
	paypalLiveAPIBaseURL    = "https://api-m.paypal.com"
	paypalSandboxAPIBaseURL = "https://api-m.sandbox.paypal.com"

	paypalLivePortalURL    = "https://www.paypal.com/myaccount/autopay/"
	paypalSandboxPortalURL = "https://www.sandbox.paypal.com/myaccount/autopay/"
)

// PayPalConfig carries the injected credentials for the PayPal adapter.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	TestMode     bool

	// APIBaseURL overrides the PayPal endpoint, used by tests.
	APIBaseURL string
}

// PayPalGateway implements Gateway against the PayPal REST API. Webhook
// authenticity is established through PayPal's verify-webhook-signature
// endpoint using the five-header transmission bundle.
type PayPalGateway struct {
	cfg        PayPalConfig
	apiBaseURL string
	httpClient *http.Client

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time
}

// NewPayPalGateway builds the PayPal adapter. Missing credentials surface as
// configuration errors on first use.
func NewPayPalGateway(cfg PayPalConfig) *PayPalGateway {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		if cfg.TestMode {
			base = paypalSandboxAPIBaseURL
		} else {
			base = paypalLiveAPIBaseURL
		}
	}
	return &PayPalGateway{
		cfg:        cfg,
		apiBaseURL: base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *PayPalGateway) Name() Provider { return ProviderPayPal }

func (g *PayPalGateway) checkConfigured() error {
	if strings.TrimSpace(g.cfg.ClientID) == "" || strings.TrimSpace(g.cfg.ClientSecret) == "" {
		return configurationError(ProviderPayPal, "client id/secret are not configured")
	}
	return nil
}

// CreateCheckout creates a PayPal billing subscription and returns the
// approval redirect. The local user/plan linkage rides in custom_id.
func (g *PayPalGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	if err := g.checkConfigured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.PriceRef) == "" {
		return nil, configurationError(ProviderPayPal, "no billing plan configured for the requested plan and cycle")
	}

	body := map[string]any{
		"plan_id":   params.PriceRef,
		"custom_id": fmt.Sprintf("%d:%d:%s", params.UserID, params.PlanID, params.BillingCycle),
		"subscriber": map[string]any{
			"email_address": params.UserEmail,
		},
		"application_context": map[string]any{
			"return_url":  params.SuccessURL,
			"cancel_url":  params.CancelURL,
			"user_action": "SUBSCRIBE_NOW",
		},
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &out); err != nil {
		return nil, err
	}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			return &CheckoutResult{URL: link.Href, SessionID: out.ID}, nil
		}
	}
	return nil, transientError(ProviderPayPal, "subscription response missing approval link", nil)
}

// CancelSubscription cancels the provider subscription. Already-canceled and
// unknown subscriptions count as success.
func (g *PayPalGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if err := g.checkConfigured(); err != nil {
		return err
	}
	if strings.TrimSpace(externalID) == "" {
		return NotFoundError("subscription has no external id")
	}

	path := "/v1/billing/subscriptions/" + url.PathEscape(externalID) + "/cancel"
	err := g.do(ctx, http.MethodPost, path, map[string]any{"reason": "canceled by customer"}, nil)
	if err == nil {
		return nil
	}
	if KindOf(err) == KindNotFound {
		return nil
	}
	// 422 SUBSCRIPTION_STATUS_INVALID means it is not in a cancelable state,
	// which for our purposes means it is already canceled or expired.
	if strings.Contains(err.Error(), "SUBSCRIPTION_STATUS_INVALID") {
		return nil
	}
	return err
}

// CreatePortal returns PayPal's automatic-payments management page. PayPal
// has no per-customer portal session API; subscribers manage agreements from
// their own account.
func (g *PayPalGateway) CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalResult, error) {
	if err := g.checkConfigured(); err != nil {
		return nil, err
	}
	if g.cfg.TestMode {
		return &PortalResult{URL: paypalSandboxPortalURL}, nil
	}
	return &PortalResult{URL: paypalLivePortalURL}, nil
}

// TestConnection exercises the OAuth client-credentials flow.
func (g *PayPalGateway) TestConnection(ctx context.Context) error {
	if err := g.checkConfigured(); err != nil {
		return err
	}
	_, err := g.accessToken(ctx)
	return err
}

// HandleWebhook requires the full five-header transmission bundle, verifies
// it through PayPal's verification endpoint, then normalizes the payload.
func (g *PayPalGateway) HandleWebhook(rawBody []byte, sig SignatureMaterial) WebhookResult {
	if err := g.checkConfigured(); err != nil {
		return WebhookResult{Err: err}
	}
	if strings.TrimSpace(g.cfg.WebhookID) == "" {
		return WebhookResult{Err: configurationError(ProviderPayPal, "webhook id is not configured")}
	}
	if sig.AuthAlgo == "" || sig.CertURL == "" || sig.TransmissionID == "" ||
		sig.Signature == "" || sig.TransmissionTime == "" {
		return WebhookResult{Err: verificationError(ProviderPayPal, "missing transmission headers")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	verified, err := g.verifyTransmission(ctx, rawBody, sig)
	if err != nil {
		return WebhookResult{Err: err}
	}
	if !verified {
		return WebhookResult{Err: verificationError(ProviderPayPal, "transmission signature rejected")}
	}

	var payload struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			CustomID   string `json:"custom_id"`
			StartTime  string `json:"start_time"`
			UpdateTime string `json:"status_update_time"`
			Subscriber struct {
				PayerID string `json:"payer_id"`
			} `json:"subscriber"`
			BillingInfo struct {
				NextBillingTime string `json:"next_billing_time"`
			} `json:"billing_info"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return WebhookResult{Err: verificationError(ProviderPayPal, "malformed webhook payload")}
	}

	var typ EventType
	switch payload.EventType {
	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED":
		typ = EventSubscriptionCreated
	case "BILLING.SUBSCRIPTION.UPDATED", "BILLING.SUBSCRIPTION.SUSPENDED",
		"BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		typ = EventSubscriptionUpdated
	case "BILLING.SUBSCRIPTION.EXPIRED":
		typ = EventSubscriptionDeleted
	default:
		return WebhookResult{OK: true}
	}

	res := payload.Resource
	status := mapPayPalStatus(res.Status)
	if res.Status == "" {
		status = payPalStatusFromEventType(payload.EventType)
	}

	userID, planID, cycle := splitCustomID(res.CustomID)
	ev := &Event{
		Type:               typ,
		SubscriptionID:     res.ID,
		Status:             status,
		CustomerID:         res.Subscriber.PayerID,
		CurrentPeriodStart: rfc3339Time(res.StartTime),
		CurrentPeriodEnd:   rfc3339Time(res.BillingInfo.NextBillingTime),
		Raw: map[string]any{
			"provider_event_id": payload.ID,
			"provider_type":     payload.EventType,
			"user_id":           userID,
			"plan_id":           planID,
			"billing_cycle":     cycle,
		},
	}
	if payload.EventType == "BILLING.SUBSCRIPTION.CANCELLED" {
		ev.CanceledAt = rfc3339Time(res.UpdateTime)
	}
	return WebhookResult{OK: true, Event: ev}
}

func (g *PayPalGateway) verifyTransmission(ctx context.Context, rawBody []byte, sig SignatureMaterial) (bool, error) {
	body := map[string]any{
		"auth_algo":         sig.AuthAlgo,
		"cert_url":          sig.CertURL,
		"transmission_id":   sig.TransmissionID,
		"transmission_sig":  sig.Signature,
		"transmission_time": sig.TransmissionTime,
		"webhook_id":        g.cfg.WebhookID,
		"webhook_event":     json.RawMessage(rawBody),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &out); err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

// mapPayPalStatus translates PayPal's subscription vocabulary onto the
// canonical status enum. Unrecognized values default to active.
func mapPayPalStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ACTIVE":
		return models.SubscriptionStatusActive
	case "APPROVAL_PENDING", "APPROVED":
		return models.SubscriptionStatusTrialing
	case "SUSPENDED":
		return models.SubscriptionStatusPastDue
	case "CANCELLED":
		return models.SubscriptionStatusCanceled
	case "EXPIRED":
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusActive
	}
}

func payPalStatusFromEventType(eventType string) string {
	switch eventType {
	case "BILLING.SUBSCRIPTION.SUSPENDED", "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		return models.SubscriptionStatusPastDue
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return models.SubscriptionStatusCanceled
	case "BILLING.SUBSCRIPTION.EXPIRED":
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusActive
	}
}

func splitCustomID(customID string) (userID, planID, billingCycle string) {
	userID, rest, _ := strings.Cut(strings.TrimSpace(customID), ":")
	planID, billingCycle, _ = strings.Cut(rest, ":")
	return userID, planID, billingCycle
}

func rfc3339Time(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	if g.token != "" && time.Until(g.tokenExp) > time.Minute {
		return g.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", transientError(ProviderPayPal, "token request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		return "", configurationError(ProviderPayPal, "client credentials were rejected")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", transientError(ProviderPayPal, fmt.Sprintf("token request status=%d", resp.StatusCode), nil)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", transientError(ProviderPayPal, "token response missing access_token", nil)
	}
	g.token = out.AccessToken
	g.tokenExp = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return g.token, nil
}

func (g *PayPalGateway) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiBaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transientError(ProviderPayPal, "request failed", err)
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
		return configurationError(ProviderPayPal, "access token was rejected")
	case resp.StatusCode == http.StatusNotFound:
		return NotFoundError("paypal resource not found")
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return transientError(ProviderPayPal, fmt.Sprintf("status=%d", resp.StatusCode), nil)
	default:
		return fmt.Errorf("paypal request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
}
