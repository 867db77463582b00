package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/podforge/podforge/app/models"
	"gorm.io/gorm"
)

// DefaultTrialDays is granted to trial-eligible checkouts on paid plans.
const DefaultTrialDays = 14

// StateMachine applies canonical events and explicit user actions to the
// subscription row of a user. All status transitions in the system go
// through here; nothing else writes subscription state.
type StateMachine struct {
	repo     Repository
	registry *Registry

	// onChange is invoked with the affected user id after every successful
	// subscription mutation (cache invalidation hook).
	onChange func(userID uint)

	// onVerified is invoked for every verified non-duplicate delivery
	// (payload archiving hook).
	onVerified func(provider Provider, eventID string, rawBody []byte)

	now func() time.Time
}

// NewStateMachine builds a state machine from an injected repository and
// gateway registry.
func NewStateMachine(repo Repository, registry *Registry) *StateMachine {
	return &StateMachine{
		repo:     repo,
		registry: registry,
		now:      time.Now,
	}
}

// OnChange registers a hook invoked after every subscription mutation.
func (m *StateMachine) OnChange(fn func(userID uint)) {
	m.onChange = fn
}

func (m *StateMachine) notifyChange(userID uint) {
	if m.onChange != nil {
		m.onChange(userID)
	}
}

// OnVerified registers a hook invoked once per verified, non-duplicate
// webhook delivery with the raw signed payload.
func (m *StateMachine) OnVerified(fn func(provider Provider, eventID string, rawBody []byte)) {
	m.onVerified = fn
}

// WebhookOutcome summarizes inbound webhook processing for the boundary.
type WebhookOutcome struct {
	Duplicate bool
	Applied   bool
}

// ProcessWebhook verifies, records and applies one webhook delivery.
// Verification happens first and fails closed: a delivery that does not
// verify performs zero writes, not even dedupe bookkeeping. Benign
// conflicts (stale replay, unknown subscription) are logged and acknowledged
// so the provider does not retry them.
func (m *StateMachine) ProcessWebhook(ctx context.Context, provider Provider, rawBody []byte, sig SignatureMaterial) (*WebhookOutcome, error) {
	gw, err := m.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	result := gw.HandleWebhook(rawBody, sig)
	if result.Err != nil {
		return nil, result.Err
	}

	eventID, eventType := "", ""
	if result.Event != nil {
		eventID = rawString(result.Event.Raw, "provider_event_id")
		eventType = rawString(result.Event.Raw, "provider_type")
	}
	if eventID == "" {
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := m.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        string(provider),
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return &WebhookOutcome{Duplicate: true}, nil
	}

	if m.onVerified != nil {
		m.onVerified(provider, eventID, rawBody)
	}

	if result.Event == nil {
		// Recognized delivery with nothing to apply.
		_ = m.repo.MarkWebhookProcessed(stored.ID, "")
		return &WebhookOutcome{}, nil
	}

	applyErr := m.ApplyEvent(ctx, provider, result.Event)
	switch KindOf(applyErr) {
	case 0:
		if applyErr != nil {
			_ = m.repo.MarkWebhookProcessed(stored.ID, applyErr.Error())
			return nil, applyErr
		}
		_ = m.repo.MarkWebhookProcessed(stored.ID, "")
		return &WebhookOutcome{Applied: true}, nil
	case KindStateConflict, KindNotFound:
		// Benign: already applied, stale, or no local linkage. Acknowledge
		// so the provider stops retrying.
		log.Printf("billing: provider=%s event=%s ignored: %v", provider, eventType, applyErr)
		_ = m.repo.MarkWebhookProcessed(stored.ID, applyErr.Error())
		return &WebhookOutcome{}, nil
	default:
		_ = m.repo.MarkWebhookProcessed(stored.ID, applyErr.Error())
		return nil, applyErr
	}
}

// ApplyEvent mutates subscription state for one verified canonical event.
// Events must only ever originate from adapter webhook verification; this is
// the sole path from provider input to local state.
func (m *StateMachine) ApplyEvent(ctx context.Context, provider Provider, ev *Event) error {
	switch ev.Type {
	case EventSubscriptionCreated:
		return m.applyCreated(ctx, provider, ev)
	case EventSubscriptionUpdated:
		return m.applyUpdated(ctx, provider, ev)
	case EventSubscriptionDeleted:
		return m.applyDeleted(ctx, provider, ev)
	default:
		return StateConflictError(fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

// applyCreated links a provider subscription to the local row, promoting the
// free-tier row in place (never duplicating) on re-subscribe.
func (m *StateMachine) applyCreated(ctx context.Context, provider Provider, ev *Event) error {
	userID := rawUint(ev.Raw, "user_id")
	if userID == 0 {
		// No checkout metadata; the subscription may already be linked.
		sub, err := m.repo.GetSubscriptionByExternalID(string(provider), ev.SubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return StateConflictError("created event carries no local user linkage")
			}
			return err
		}
		userID = sub.UserID
	}

	freePlan, err := m.repo.GetFreePlan()
	if err != nil {
		return err
	}
	sub, err := m.repo.EnsureSubscription(userID, freePlan.ID)
	if err != nil {
		return err
	}

	status := ev.Status
	if status != models.SubscriptionStatusActive && status != models.SubscriptionStatusTrialing {
		status = models.SubscriptionStatusActive
	}

	sub.Gateway = string(provider)
	sub.ExternalID = ev.SubscriptionID
	sub.CustomerID = ev.CustomerID
	sub.Status = status
	sub.CanceledAt = nil
	if planID := rawUint(ev.Raw, "plan_id"); planID != 0 {
		if _, err := m.repo.GetPlanByID(planID); err == nil {
			sub.PlanID = planID
		} else {
			log.Printf("billing: provider=%s sub=%s unknown plan %d in checkout metadata", provider, ev.SubscriptionID, planID)
		}
	}
	if cycle := rawString(ev.Raw, "billing_cycle"); models.ValidBillingCycle(cycle) {
		sub.BillingCycle = cycle
	}
	if ev.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	// A trial counts as consumed only when the provider subscription carries
	// one. A trial-like status without a trial end (PayPal approval pending)
	// must not burn the user's single trial.
	sub.TrialEndsAt = ev.TrialEnd
	if ev.TrialEnd != nil && sub.TrialUsedAt == nil {
		now := m.now()
		sub.TrialUsedAt = &now
	}

	if err := m.repo.SaveSubscription(sub); err != nil {
		return err
	}
	m.notifyChange(sub.UserID)
	return nil
}

// applyUpdated refreshes status and period fields. Out-of-order deliveries
// are resolved by the non-decreasing-period rule: an update whose period end
// is older than the stored one is a stale replay and changes nothing.
func (m *StateMachine) applyUpdated(ctx context.Context, provider Provider, ev *Event) error {
	sub, err := m.repo.GetSubscriptionByExternalID(string(provider), ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError(fmt.Sprintf("no subscription linked to %s/%s", provider, ev.SubscriptionID))
		}
		return err
	}

	if sub.CurrentPeriodEnd != nil && ev.CurrentPeriodEnd != nil &&
		ev.CurrentPeriodEnd.Before(*sub.CurrentPeriodEnd) {
		return StateConflictError("stale event: period end older than stored")
	}
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
	default:
		return StateConflictError(fmt.Sprintf("update ignored in status %s", sub.Status))
	}

	if models.ValidSubscriptionStatus(ev.Status) {
		sub.Status = ev.Status
	}
	if ev.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	sub.CanceledAt = ev.CanceledAt

	if err := m.repo.SaveSubscription(sub); err != nil {
		return err
	}
	m.notifyChange(sub.UserID)
	return nil
}

// applyDeleted resets the row to the free plan regardless of prior status.
func (m *StateMachine) applyDeleted(ctx context.Context, provider Provider, ev *Event) error {
	sub, err := m.repo.GetSubscriptionByExternalID(string(provider), ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StateConflictError(fmt.Sprintf("no subscription linked to %s/%s", provider, ev.SubscriptionID))
		}
		return err
	}

	freePlan, err := m.repo.GetFreePlan()
	if err != nil {
		return err
	}

	sub.Gateway = ""
	sub.ExternalID = ""
	sub.CustomerID = ""
	sub.PlanID = freePlan.ID
	sub.Status = models.SubscriptionStatusActive
	sub.BillingCycle = models.BillingCycleMonthly
	sub.CurrentPeriodStart = nil
	sub.CurrentPeriodEnd = nil
	sub.TrialEndsAt = nil
	sub.CanceledAt = nil

	if err := m.repo.SaveSubscription(sub); err != nil {
		return err
	}
	m.notifyChange(sub.UserID)
	return nil
}

// Checkout opens a hosted checkout session for a paid plan. Trial days are
// granted only to users who have never consumed a trial and hold no live
// subscription (no row, or a prior row that expired).
func (m *StateMachine) Checkout(ctx context.Context, userID uint, userEmail string, planID uint, billingCycle string, provider Provider, successURL, cancelURL string) (*CheckoutResult, error) {
	if !models.ValidBillingCycle(billingCycle) {
		return nil, NotFoundError(fmt.Sprintf("unknown billing cycle %q", billingCycle))
	}
	gw, err := m.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	plan, err := m.repo.GetPlanByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError(fmt.Sprintf("unknown plan %d", planID))
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, NotFoundError(fmt.Sprintf("plan %s is no longer offered", plan.Slug))
	}
	if !plan.IsPaid() {
		return nil, StateConflictError("the free plan does not require checkout")
	}

	trialDays := 0
	sub, err := m.repo.GetSubscriptionByUser(userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		trialDays = DefaultTrialDays
	case err != nil:
		return nil, err
	case sub.Status == models.SubscriptionStatusExpired && sub.TrialUsedAt == nil:
		trialDays = DefaultTrialDays
	}

	mapping, err := m.repo.FindPlanMapping(string(provider), plan.ID, billingCycle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(provider, fmt.Sprintf("plan %s has no %s price configured", plan.Slug, billingCycle))
		}
		return nil, err
	}

	return gw.CreateCheckout(ctx, CheckoutParams{
		PlanID:       plan.ID,
		PriceRef:     mapping.ProviderPriceRef,
		UserID:       userID,
		UserEmail:    userEmail,
		BillingCycle: billingCycle,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
		TrialDays:    trialDays,
	})
}

// Cancel performs a soft cancel: the provider subscription is canceled, the
// local row is marked canceled with the cancellation time, and plan/period
// fields stay untouched so access persists until the paid period ends.
// Canceling an already-canceled subscription is a state conflict, not a
// silent success.
func (m *StateMachine) Cancel(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := m.repo.GetSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("no subscription to cancel")
		}
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil, StateConflictError("subscription is already canceled")
	}
	if !sub.HasGateway() {
		return nil, StateConflictError("no paid subscription to cancel")
	}

	gw, err := m.registry.Get(Provider(sub.Gateway))
	if err != nil {
		return nil, err
	}
	if err := gw.CancelSubscription(ctx, sub.ExternalID); err != nil {
		return nil, err
	}

	now := m.now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	if err := m.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	m.notifyChange(sub.UserID)
	return sub, nil
}

// Portal opens the provider billing portal for the user's subscription.
func (m *StateMachine) Portal(ctx context.Context, userID uint, returnURL string) (*PortalResult, error) {
	sub, err := m.repo.GetSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("no subscription")
		}
		return nil, err
	}
	if !sub.HasGateway() {
		return nil, NotFoundError("no provider subscription")
	}

	gw, err := m.registry.Get(Provider(sub.Gateway))
	if err != nil {
		return nil, err
	}
	return gw.CreatePortal(ctx, sub.CustomerID, returnURL)
}

// CurrentSubscription returns the user's subscription and plan. A missing
// row is the implicit free tier: a synthetic active subscription on the free
// plan, not persisted until a quota check first touches it.
func (m *StateMachine) CurrentSubscription(ctx context.Context, userID uint) (*models.Subscription, *models.Plan, error) {
	freePlan, err := m.repo.GetFreePlan()
	if err != nil {
		return nil, nil, err
	}

	sub, err := m.repo.GetSubscriptionByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Subscription{
				UserID:       userID,
				PlanID:       freePlan.ID,
				Status:       models.SubscriptionStatusActive,
				BillingCycle: models.BillingCycleMonthly,
			}, freePlan, nil
		}
		return nil, nil, err
	}

	plan, err := m.repo.GetPlanByID(sub.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sub, freePlan, nil
		}
		return nil, nil, err
	}
	return sub, plan, nil
}

// TestGateway runs the connectivity check of one configured provider.
func (m *StateMachine) TestGateway(ctx context.Context, provider Provider) error {
	gw, err := m.registry.Get(provider)
	if err != nil {
		return err
	}
	return gw.TestConnection(ctx)
}

func rawString(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	s, _ := raw[key].(string)
	return s
}

func rawUint(raw map[string]any, key string) uint {
	n, err := strconv.ParseUint(rawString(raw, key), 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}
