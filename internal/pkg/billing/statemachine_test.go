package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/podforge/podforge/app/models"
)

// fakeRepo is an in-memory Repository for state machine tests.
type fakeRepo struct {
	plans      map[uint]*models.Plan
	subsByUser map[uint]*models.Subscription
	mappings   map[string]*models.PlanMapping
	events     map[string]*models.WebhookEvent
	nextSubID  uint
	nextEvtID  uint
	saves      int
}

func newFakeRepo() *fakeRepo {
	free := &models.Plan{ID: 1, Slug: models.PlanFree, Name: "Free", IsActive: true, MaxChannels: 1}
	pro := &models.Plan{ID: 2, Slug: models.PlanPro, Name: "Pro", IsActive: true, PriceMonthlyCents: 2900}
	return &fakeRepo{
		plans:      map[uint]*models.Plan{1: free, 2: pro},
		subsByUser: map[uint]*models.Subscription{},
		mappings:   map[string]*models.PlanMapping{},
		events:     map[string]*models.WebhookEvent{},
	}
}

func (r *fakeRepo) addMapping(provider string, planID uint, cycle, priceRef string) {
	key := fmt.Sprintf("%s|%d|%s", provider, planID, cycle)
	r.mappings[key] = &models.PlanMapping{Provider: provider, PlanID: planID, BillingCycle: cycle, ProviderPriceRef: priceRef, IsActive: true}
}

func (r *fakeRepo) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	sub, ok := r.subsByUser[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepo) GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error) {
	for _, sub := range r.subsByUser {
		if sub.Gateway == provider && sub.ExternalID == externalID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) EnsureSubscription(userID, freePlanID uint) (*models.Subscription, error) {
	if _, ok := r.subsByUser[userID]; !ok {
		r.nextSubID++
		r.subsByUser[userID] = &models.Subscription{
			ID:           r.nextSubID,
			UserID:       userID,
			PlanID:       freePlanID,
			Status:       models.SubscriptionStatusActive,
			BillingCycle: models.BillingCycleMonthly,
			UsageResetAt: time.Now().AddDate(0, 1, 0),
		}
	}
	return r.GetSubscriptionByUser(userID)
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	cp := *sub
	r.subsByUser[sub.UserID] = &cp
	r.saves++
	return nil
}

func (r *fakeRepo) GetPlanByID(id uint) (*models.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) GetFreePlan() (*models.Plan, error) {
	for _, p := range r.plans {
		if p.Slug == models.PlanFree {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindPlanMapping(provider string, planID uint, billingCycle string) (*models.PlanMapping, error) {
	key := fmt.Sprintf("%s|%d|%s", provider, planID, billingCycle)
	m, ok := r.mappings[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "|" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.nextEvtID++
	cp := *event
	cp.ID = r.nextEvtID
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

// fakeGateway is a scriptable Gateway for state machine tests.
type fakeGateway struct {
	provider      Provider
	webhookResult WebhookResult
	cancelErr     error
	canceled      []string
	lastCheckout  *CheckoutParams
	connTests     int
	connErr       error
}

func (g *fakeGateway) Name() Provider { return g.provider }

func (g *fakeGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	cp := params
	g.lastCheckout = &cp
	return &CheckoutResult{URL: "https://checkout.example/session", SessionID: "sess-1"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, externalID string) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, externalID)
	return nil
}

func (g *fakeGateway) CreatePortal(ctx context.Context, customerID, returnURL string) (*PortalResult, error) {
	return &PortalResult{URL: "https://portal.example/" + customerID}, nil
}

func (g *fakeGateway) HandleWebhook(rawBody []byte, sig SignatureMaterial) WebhookResult {
	return g.webhookResult
}

func (g *fakeGateway) TestConnection(ctx context.Context) error {
	g.connTests++
	return g.connErr
}

func newTestMachine(repo *fakeRepo, gw *fakeGateway) *StateMachine {
	m := NewStateMachine(repo, NewRegistry(gw))
	m.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

func linkedSubscription(repo *fakeRepo, userID uint) *models.Subscription {
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -1, 0)
	repo.nextSubID++
	sub := &models.Subscription{
		ID:                 repo.nextSubID,
		UserID:             userID,
		PlanID:             2,
		Status:             models.SubscriptionStatusActive,
		BillingCycle:       models.BillingCycleMonthly,
		Gateway:            "stripe",
		ExternalID:         "sub_1",
		CustomerID:         "cus_1",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}
	repo.subsByUser[userID] = sub
	return sub
}

func TestProcessWebhookFailsClosedOnVerification(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{
		provider:      ProviderStripe,
		webhookResult: WebhookResult{Err: verificationError(ProviderStripe, "bad signature")},
	}
	m := newTestMachine(repo, gw)
	verifiedCalls := 0
	m.OnVerified(func(Provider, string, []byte) { verifiedCalls++ })

	outcome, err := m.ProcessWebhook(context.Background(), ProviderStripe, []byte(`{}`), SignatureMaterial{})
	assert.Nil(t, outcome)
	assert.Equal(t, KindVerification, KindOf(err))

	// A rejected delivery performs no writes at all.
	assert.Empty(t, repo.events)
	assert.Zero(t, repo.saves)
	assert.Zero(t, verifiedCalls)
}

func TestProcessWebhookDeduplicatesByProviderEventID(t *testing.T) {
	repo := newFakeRepo()
	linkedSubscription(repo, 7)

	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		provider: ProviderStripe,
		webhookResult: WebhookResult{OK: true, Event: &Event{
			Type:             EventSubscriptionUpdated,
			SubscriptionID:   "sub_1",
			Status:           models.SubscriptionStatusActive,
			CurrentPeriodEnd: &end,
			Raw:              map[string]any{"provider_event_id": "evt_1", "provider_type": "customer.subscription.updated"},
		}},
	}
	m := newTestMachine(repo, gw)
	var archived []string
	m.OnVerified(func(p Provider, eventID string, rawBody []byte) {
		archived = append(archived, eventID)
	})

	first, err := m.ProcessWebhook(context.Background(), ProviderStripe, []byte(`{}`), SignatureMaterial{})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.False(t, first.Duplicate)

	second, err := m.ProcessWebhook(context.Background(), ProviderStripe, []byte(`{}`), SignatureMaterial{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)

	// The archive hook fires once per delivery, never for replays.
	assert.Equal(t, []string{"evt_1"}, archived)
	assert.Equal(t, 1, repo.saves)
}

func TestProcessWebhookHashFallbackEventID(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{
		provider:      ProviderStripe,
		webhookResult: WebhookResult{OK: true},
	}
	m := newTestMachine(repo, gw)

	body := []byte(`{"type":"invoice.paid"}`)
	outcome, err := m.ProcessWebhook(context.Background(), ProviderStripe, body, SignatureMaterial{})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)

	// Same body again still dedupes via the body hash.
	outcome, err = m.ProcessWebhook(context.Background(), ProviderStripe, body, SignatureMaterial{})
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)

	require.Len(t, repo.events, 1)
	for _, ev := range repo.events {
		assert.Contains(t, ev.ProviderEventID, "hash:")
	}
}

func TestProcessWebhookAcknowledgesBenignConflicts(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{
		provider: ProviderStripe,
		webhookResult: WebhookResult{OK: true, Event: &Event{
			Type:           EventSubscriptionUpdated,
			SubscriptionID: "sub_unknown",
			Status:         models.SubscriptionStatusActive,
			Raw:            map[string]any{"provider_event_id": "evt_2"},
		}},
	}
	m := newTestMachine(repo, gw)

	// No local subscription is linked: the provider must not keep retrying.
	outcome, err := m.ProcessWebhook(context.Background(), ProviderStripe, []byte(`{}`), SignatureMaterial{})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.False(t, outcome.Duplicate)
}

func TestApplyCreatedPromotesFreeRowInPlace(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{provider: ProviderStripe}
	m := newTestMachine(repo, gw)

	// User 7 already sits on the persisted free tier.
	_, err := repo.EnsureSubscription(7, 1)
	require.NoError(t, err)

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	err = m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:               EventSubscriptionCreated,
		SubscriptionID:     "sub_new",
		Status:             models.SubscriptionStatusActive,
		CustomerID:         "cus_7",
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Raw:                map[string]any{"user_id": "7", "plan_id": "2", "billing_cycle": "yearly"},
	})
	require.NoError(t, err)

	require.Len(t, repo.subsByUser, 1)
	sub := repo.subsByUser[7]
	assert.Equal(t, uint(2), sub.PlanID)
	assert.Equal(t, "stripe", sub.Gateway)
	assert.Equal(t, "sub_new", sub.ExternalID)
	assert.Equal(t, "cus_7", sub.CustomerID)
	assert.Equal(t, models.BillingCycleYearly, sub.BillingCycle)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.TrialUsedAt)
}

func TestApplyCreatedTrialConsumption(t *testing.T) {
	t.Run("granted trial is marked consumed", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})

		end := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
		err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
			Type:             EventSubscriptionCreated,
			SubscriptionID:   "sub_t",
			Status:           models.SubscriptionStatusTrialing,
			CurrentPeriodEnd: &end,
			TrialEnd:         &end,
			Raw:              map[string]any{"user_id": "9", "plan_id": "2", "billing_cycle": "monthly"},
		})
		require.NoError(t, err)

		sub := repo.subsByUser[9]
		assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
		require.NotNil(t, sub.TrialEndsAt)
		assert.Equal(t, end, *sub.TrialEndsAt)
		require.NotNil(t, sub.TrialUsedAt)
	})

	t.Run("trial-like status without a trial does not consume it", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestMachine(repo, &fakeGateway{provider: ProviderPayPal})

		// PayPal approval-pending arrives as trialing but grants nothing.
		err := m.ApplyEvent(context.Background(), ProviderPayPal, &Event{
			Type:           EventSubscriptionCreated,
			SubscriptionID: "I-PEND",
			Status:         models.SubscriptionStatusTrialing,
			Raw:            map[string]any{"user_id": "9", "plan_id": "2", "billing_cycle": "monthly"},
		})
		require.NoError(t, err)

		sub := repo.subsByUser[9]
		assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)
		assert.Nil(t, sub.TrialEndsAt)
		assert.Nil(t, sub.TrialUsedAt)
	})
}

func TestApplyCreatedWithoutLinkageIsConflict(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})

	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:           EventSubscriptionCreated,
		SubscriptionID: "sub_orphan",
		Status:         models.SubscriptionStatusActive,
	})
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.Empty(t, repo.subsByUser)
}

func TestApplyUpdatedRejectsStaleDeliveries(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
	sub := linkedSubscription(repo, 7)

	stale := sub.CurrentPeriodEnd.AddDate(0, -2, 0)
	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:             EventSubscriptionUpdated,
		SubscriptionID:   "sub_1",
		Status:           models.SubscriptionStatusPastDue,
		CurrentPeriodEnd: &stale,
	})
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.Equal(t, models.SubscriptionStatusActive, repo.subsByUser[7].Status)
}

func TestApplyUpdatedRefreshesStatusAndPeriod(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
	sub := linkedSubscription(repo, 7)

	newEnd := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
	newStart := *sub.CurrentPeriodEnd
	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:               EventSubscriptionUpdated,
		SubscriptionID:     "sub_1",
		Status:             models.SubscriptionStatusPastDue,
		CurrentPeriodStart: &newStart,
		CurrentPeriodEnd:   &newEnd,
	})
	require.NoError(t, err)

	got := repo.subsByUser[7]
	assert.Equal(t, models.SubscriptionStatusPastDue, got.Status)
	assert.Equal(t, newEnd, *got.CurrentPeriodEnd)
	assert.Equal(t, newStart, *got.CurrentPeriodStart)
}

func TestApplyUpdatedIgnoredInTerminalStatus(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
	sub := linkedSubscription(repo, 7)
	sub.Status = models.SubscriptionStatusExpired

	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:           EventSubscriptionUpdated,
		SubscriptionID: "sub_1",
		Status:         models.SubscriptionStatusActive,
	})
	assert.Equal(t, KindStateConflict, KindOf(err))
	assert.Equal(t, models.SubscriptionStatusExpired, repo.subsByUser[7].Status)
}

func TestApplyDeletedResetsToFreePlan(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
	linkedSubscription(repo, 7)

	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:           EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	sub := repo.subsByUser[7]
	assert.Equal(t, uint(1), sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Empty(t, sub.Gateway)
	assert.Empty(t, sub.ExternalID)
	assert.Nil(t, sub.CurrentPeriodEnd)
	assert.Nil(t, sub.TrialEndsAt)
}

func TestCheckoutTrialEligibility(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(repo *fakeRepo)
		wantTrial int
	}{
		{"first ever subscription", func(repo *fakeRepo) {}, DefaultTrialDays},
		{"active free-tier row", func(repo *fakeRepo) {
			_, _ = repo.EnsureSubscription(7, 1)
		}, 0},
		{"expired without prior trial", func(repo *fakeRepo) {
			repo.subsByUser[7] = &models.Subscription{ID: 1, UserID: 7, PlanID: 2, Status: models.SubscriptionStatusExpired}
		}, DefaultTrialDays},
		{"expired with consumed trial", func(repo *fakeRepo) {
			used := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			repo.subsByUser[7] = &models.Subscription{ID: 1, UserID: 7, PlanID: 2, Status: models.SubscriptionStatusExpired, TrialUsedAt: &used}
		}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.addMapping("stripe", 2, models.BillingCycleMonthly, "price_pro_m")
			tc.prepare(repo)
			gw := &fakeGateway{provider: ProviderStripe}
			m := newTestMachine(repo, gw)

			res, err := m.Checkout(context.Background(), 7, "user@example.com", 2, models.BillingCycleMonthly, ProviderStripe, "https://ok", "https://no")
			require.NoError(t, err)
			assert.Equal(t, "https://checkout.example/session", res.URL)
			require.NotNil(t, gw.lastCheckout)
			assert.Equal(t, tc.wantTrial, gw.lastCheckout.TrialDays)
			assert.Equal(t, "price_pro_m", gw.lastCheckout.PriceRef)
		})
	}
}

func TestCheckoutRejections(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{provider: ProviderStripe}
	m := newTestMachine(repo, gw)
	ctx := context.Background()

	t.Run("unknown billing cycle", func(t *testing.T) {
		_, err := m.Checkout(ctx, 7, "u@e.com", 2, "weekly", ProviderStripe, "", "")
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("unknown plan", func(t *testing.T) {
		_, err := m.Checkout(ctx, 7, "u@e.com", 99, models.BillingCycleMonthly, ProviderStripe, "", "")
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("free plan needs no checkout", func(t *testing.T) {
		_, err := m.Checkout(ctx, 7, "u@e.com", 1, models.BillingCycleMonthly, ProviderStripe, "", "")
		assert.Equal(t, KindStateConflict, KindOf(err))
	})

	t.Run("retired plan", func(t *testing.T) {
		repo.plans[3] = &models.Plan{ID: 3, Slug: "legacy", Name: "Legacy", IsActive: false, PriceMonthlyCents: 500}
		_, err := m.Checkout(ctx, 7, "u@e.com", 3, models.BillingCycleMonthly, ProviderStripe, "", "")
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("missing price mapping", func(t *testing.T) {
		_, err := m.Checkout(ctx, 7, "u@e.com", 2, models.BillingCycleYearly, ProviderStripe, "", "")
		assert.Equal(t, KindConfiguration, KindOf(err))
	})

	t.Run("disabled provider", func(t *testing.T) {
		_, err := m.Checkout(ctx, 7, "u@e.com", 2, models.BillingCycleMonthly, ProviderPayPal, "", "")
		assert.Equal(t, KindNotFound, KindOf(err))
	})
}

func TestCancelIsProviderFirst(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{provider: ProviderStripe}
	m := newTestMachine(repo, gw)
	linkedSubscription(repo, 7)

	sub, err := m.Cancel(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_1"}, gw.canceled)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)

	// Plan and period survive the soft cancel so access runs out naturally.
	assert.Equal(t, uint(2), sub.PlanID)
	assert.NotNil(t, sub.CurrentPeriodEnd)
}

func TestCancelLeavesStateAloneWhenProviderFails(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{
		provider:  ProviderStripe,
		cancelErr: transientError(ProviderStripe, "status=503", nil),
	}
	m := newTestMachine(repo, gw)
	linkedSubscription(repo, 7)

	_, err := m.Cancel(context.Background(), 7)
	assert.Equal(t, KindTransientProvider, KindOf(err))
	assert.Equal(t, models.SubscriptionStatusActive, repo.subsByUser[7].Status)
}

func TestCancelConflicts(t *testing.T) {
	t.Run("already canceled", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
		sub := linkedSubscription(repo, 7)
		sub.Status = models.SubscriptionStatusCanceled

		_, err := m.Cancel(context.Background(), 7)
		assert.Equal(t, KindStateConflict, KindOf(err))
	})

	t.Run("free tier has nothing to cancel", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
		_, err := repo.EnsureSubscription(7, 1)
		require.NoError(t, err)

		_, err = m.Cancel(context.Background(), 7)
		assert.Equal(t, KindStateConflict, KindOf(err))
	})

	t.Run("no subscription row", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
		_, err := m.Cancel(context.Background(), 7)
		assert.Equal(t, KindNotFound, KindOf(err))
	})
}

func TestCurrentSubscriptionSynthesizesFreeTier(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})

	sub, plan, err := m.CurrentSubscription(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint(42), sub.UserID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, models.PlanFree, plan.Slug)
	assert.Zero(t, sub.ID)

	// Nothing was persisted by the read.
	assert.Empty(t, repo.subsByUser)
}

func TestTestGatewayDelegatesToAdapter(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{provider: ProviderStripe}
	m := newTestMachine(repo, gw)

	require.NoError(t, m.TestGateway(context.Background(), ProviderStripe))
	assert.Equal(t, 1, gw.connTests)

	gw.connErr = configurationError(ProviderStripe, "secret key is not configured")
	err := m.TestGateway(context.Background(), ProviderStripe)
	assert.Equal(t, KindConfiguration, KindOf(err))

	err = m.TestGateway(context.Background(), ProviderPayPal)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestOnChangeHookFiresOnMutation(t *testing.T) {
	repo := newFakeRepo()
	m := newTestMachine(repo, &fakeGateway{provider: ProviderStripe})
	linkedSubscription(repo, 7)

	var changed []uint
	m.OnChange(func(userID uint) { changed = append(changed, userID) })

	err := m.ApplyEvent(context.Background(), ProviderStripe, &Event{
		Type:           EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, changed)
}
