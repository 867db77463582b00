package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podforge/podforge/app/models"
)

const testWebhookSecret = "whsec_test_secret"

func signStripePayload(t *testing.T, secret string, ts time.Time, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestStripeGateway(baseURL string) *StripeGateway {
	return NewStripeGateway(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		APIBaseURL:    baseURL,
	})
}

func TestStripeHandleWebhookVerifiesBeforeParsing(t *testing.T) {
	gw := newTestStripeGateway("")
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.created","data":{"object":{"id":"sub_1","status":"active"}}}`)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"garbage header", "not-a-signature"},
		{"wrong secret", signStripePayload(t, "whsec_other", time.Now(), payload)},
		{"signature for different body", signStripePayload(t, testWebhookSecret, time.Now(), []byte(`{}`))},
		{"timestamp too old", signStripePayload(t, testWebhookSecret, time.Now().Add(-10*time.Minute), payload)},
		{"timestamp in the future", signStripePayload(t, testWebhookSecret, time.Now().Add(10*time.Minute), payload)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := gw.HandleWebhook(payload, SignatureMaterial{Signature: tc.header})
			assert.False(t, res.OK)
			assert.Nil(t, res.Event)
			assert.Equal(t, KindVerification, KindOf(res.Err))
		})
	}
}

func TestStripeHandleWebhookNormalizesSubscriptionEvents(t *testing.T) {
	gw := newTestStripeGateway("")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_42",
		"type": "customer.subscription.created",
		"data": {"object": {
			"id": "sub_42",
			"status": "trialing",
			"customer": "cus_42",
			"current_period_start": %d,
			"current_period_end": %d,
			"trial_end": %d,
			"metadata": {"user_id": "7", "plan_id": "2", "billing_cycle": "monthly"}
		}}
	}`, start.Unix(), end.Unix(), end.Unix()))
	sig := signStripePayload(t, testWebhookSecret, time.Now(), payload)

	res := gw.HandleWebhook(payload, SignatureMaterial{Signature: sig})
	require.True(t, res.OK)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Event)

	ev := res.Event
	assert.Equal(t, EventSubscriptionCreated, ev.Type)
	assert.Equal(t, "sub_42", ev.SubscriptionID)
	assert.Equal(t, models.SubscriptionStatusTrialing, ev.Status)
	assert.Equal(t, "cus_42", ev.CustomerID)
	require.NotNil(t, ev.CurrentPeriodStart)
	assert.True(t, ev.CurrentPeriodStart.Equal(start))
	require.NotNil(t, ev.CurrentPeriodEnd)
	assert.True(t, ev.CurrentPeriodEnd.Equal(end))
	require.NotNil(t, ev.TrialEnd)
	assert.True(t, ev.TrialEnd.Equal(end))
	assert.Nil(t, ev.CanceledAt)
	assert.Equal(t, "evt_42", ev.Raw["provider_event_id"])
	assert.Equal(t, "7", ev.Raw["user_id"])
	assert.Equal(t, "2", ev.Raw["plan_id"])
	assert.Equal(t, "monthly", ev.Raw["billing_cycle"])
}

func TestStripeHandleWebhookIgnoresUnrelatedEvents(t *testing.T) {
	gw := newTestStripeGateway("")
	payload := []byte(`{"id":"evt_9","type":"invoice.paid","data":{"object":{}}}`)
	sig := signStripePayload(t, testWebhookSecret, time.Now(), payload)

	res := gw.HandleWebhook(payload, SignatureMaterial{Signature: sig})
	assert.True(t, res.OK)
	assert.Nil(t, res.Event)
	assert.NoError(t, res.Err)
}

func TestStripeStatusMap(t *testing.T) {
	tests := map[string]string{
		"active":             models.SubscriptionStatusActive,
		"trialing":           models.SubscriptionStatusTrialing,
		"past_due":           models.SubscriptionStatusPastDue,
		"unpaid":             models.SubscriptionStatusPastDue,
		"canceled":           models.SubscriptionStatusCanceled,
		"incomplete_expired": models.SubscriptionStatusExpired,
		"something_new":      models.SubscriptionStatusActive,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapStripeStatus(in), "status %q", in)
	}
}

func TestStripeCreateCheckoutRequiresConfiguration(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{})
	_, err := gw.CreateCheckout(context.Background(), CheckoutParams{PriceRef: "price_1"})
	assert.Equal(t, KindConfiguration, KindOf(err))

	gw = NewStripeGateway(StripeConfig{SecretKey: "sk_test_123"})
	_, err = gw.CreateCheckout(context.Background(), CheckoutParams{})
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestStripeCreateCheckout(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/sessions", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		fmt.Fprint(w, `{"id":"cs_1","url":"https://checkout.example/cs_1"}`)
	}))
	defer srv.Close()

	gw := newTestStripeGateway(srv.URL)
	res, err := gw.CreateCheckout(context.Background(), CheckoutParams{
		PlanID:       2,
		PriceRef:     "price_abc",
		UserID:       7,
		UserEmail:    "user@example.com",
		BillingCycle: models.BillingCycleMonthly,
		SuccessURL:   "https://app.example/ok",
		CancelURL:    "https://app.example/no",
		TrialDays:    14,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_1", res.URL)
	assert.Equal(t, "cs_1", res.SessionID)

	assert.Equal(t, "subscription", gotForm["mode"][0])
	assert.Equal(t, "price_abc", gotForm["line_items[0][price]"][0])
	assert.Equal(t, "7", gotForm["subscription_data[metadata][user_id]"][0])
	assert.Equal(t, "monthly", gotForm["subscription_data[metadata][billing_cycle]"][0])
	assert.Equal(t, "14", gotForm["subscription_data[trial_period_days]"][0])
}

func TestStripeCancelSubscriptionIdempotent(t *testing.T) {
	t.Run("active subscription", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			fmt.Fprint(w, `{"id":"sub_1","status":"canceled"}`)
		}))
		defer srv.Close()
		gw := newTestStripeGateway(srv.URL)
		assert.NoError(t, gw.CancelSubscription(context.Background(), "sub_1"))
	})

	t.Run("already gone at the provider", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"resource_missing","message":"No such subscription"}}`)
		}))
		defer srv.Close()
		gw := newTestStripeGateway(srv.URL)
		assert.NoError(t, gw.CancelSubscription(context.Background(), "sub_gone"))
	})

	t.Run("already canceled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"A canceled subscription can only update its cancellation_details."}}`)
		}))
		defer srv.Close()
		gw := newTestStripeGateway(srv.URL)
		assert.NoError(t, gw.CancelSubscription(context.Background(), "sub_done"))
	})
}

func TestStripeDoMapsProviderErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindConfiguration},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindTransientProvider},
		{http.StatusTooManyRequests, KindTransientProvider},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, `{"error":{"message":"boom"}}`)
		}))
		gw := newTestStripeGateway(srv.URL)
		err := gw.TestConnection(context.Background())
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}
