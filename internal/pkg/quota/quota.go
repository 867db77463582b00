package quota

import (
	"context"
	"time"

	"github.com/podforge/podforge/app/models"
	"github.com/podforge/podforge/internal/pkg/billing"
)

// Guard performs pre-flight authorization for metered operations: channel
// creation, episode publishing and API calls. A nil return means allowed;
// denials are typed *billing.Error values carrying a stable code.
//
// Episode and API checks consume quota atomically with the check itself so
// two concurrent requests can never both pass on the last remaining unit.
type Guard struct {
	repo Repository
	now  func() time.Time

	// onConsume is invoked with the affected user id after every counter
	// mutation (cache invalidation hook).
	onConsume func(userID uint)
}

// NewGuard builds a quota guard from an injected repository.
func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo, now: time.Now}
}

// OnConsume registers a hook invoked after every usage-counter mutation.
func (g *Guard) OnConsume(fn func(userID uint)) {
	g.onConsume = fn
}

func (g *Guard) notifyConsume(userID uint) {
	if g.onConsume != nil {
		g.onConsume(userID)
	}
}

// Snapshot returns the user's subscription and plan with the lazy cycle
// reset applied. The free-tier row is created on first contact.
func (g *Guard) Snapshot(ctx context.Context, userID uint) (*models.Subscription, *models.Plan, error) {
	_ = ctx
	sub, plan, err := g.load(userID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

// CheckChannel authorizes creating one more channel. Channels are counted by
// the caller (channel CRUD lives outside this core), so this check does not
// consume anything.
func (g *Guard) CheckChannel(ctx context.Context, userID uint, channelCount int) error {
	_ = ctx
	sub, plan, err := g.load(userID)
	if err != nil {
		return err
	}
	if !sub.IsEntitled() {
		return billing.SubscriptionInactiveError(sub.Status)
	}

	max := plan.MaxChannels
	switch {
	case max == models.LimitUnlimited:
		return nil
	case max == models.LimitDisabled:
		return billing.NotInPlanError("channels")
	case channelCount < max:
		return nil
	default:
		return billing.QuotaExceededError("channel", max, channelCount)
	}
}

// CheckAndConsumeEpisode authorizes and records one episode creation in a
// single conditional increment.
func (g *Guard) CheckAndConsumeEpisode(ctx context.Context, userID uint) error {
	_ = ctx
	sub, plan, err := g.load(userID)
	if err != nil {
		return err
	}
	if !sub.IsEntitled() {
		return billing.SubscriptionInactiveError(sub.Status)
	}

	max := plan.MaxEpisodesPerMonth
	if max == models.LimitDisabled {
		return billing.NotInPlanError("episode publishing")
	}
	ok, err := g.repo.IncrementEpisodes(sub.ID, max)
	if err != nil {
		return err
	}
	if !ok {
		return billing.QuotaExceededError("episode", max, g.usedEpisodes(sub))
	}
	g.notifyConsume(userID)
	return nil
}

// CheckAndConsumeAPI authorizes and records one API call in a single
// conditional increment. A zero cap means the plan does not include API
// access at all, which is a different denial than an exhausted cap.
func (g *Guard) CheckAndConsumeAPI(ctx context.Context, userID uint) error {
	_ = ctx
	sub, plan, err := g.load(userID)
	if err != nil {
		return err
	}
	if !sub.IsEntitled() {
		return billing.SubscriptionInactiveError(sub.Status)
	}

	max := plan.MaxAPICalls
	if max == models.LimitDisabled {
		return billing.NotInPlanError("API access")
	}
	ok, err := g.repo.IncrementAPICalls(sub.ID, max)
	if err != nil {
		return err
	}
	if !ok {
		return billing.QuotaExceededError("API call", max, g.usedAPICalls(sub))
	}
	g.notifyConsume(userID)
	return nil
}

// load fetches subscription and plan, creating the free-tier row if absent
// and applying the lazy cycle reset.
func (g *Guard) load(userID uint) (*models.Subscription, *models.Plan, error) {
	freePlan, err := g.repo.GetFreePlan()
	if err != nil {
		return nil, nil, err
	}
	sub, err := g.repo.EnsureSubscription(userID, freePlan.ID)
	if err != nil {
		return nil, nil, err
	}
	sub, err = g.maybeReset(sub)
	if err != nil {
		return nil, nil, err
	}

	plan := freePlan
	if sub.PlanID != freePlan.ID {
		plan, err = g.repo.GetPlanByID(sub.PlanID)
		if err != nil {
			return nil, nil, err
		}
	}
	return sub, plan, nil
}

// maybeReset performs the lazy cycle reset: once usage_reset_at has elapsed,
// counters are zeroed and the boundary advances by exactly one cycle length
// per elapsed boundary. The conditional update keyed on the old boundary
// ensures a boundary is never reset twice by concurrent readers.
func (g *Guard) maybeReset(sub *models.Subscription) (*models.Subscription, error) {
	for !sub.UsageResetAt.IsZero() && !sub.UsageResetAt.After(g.now()) {
		next := sub.UsageResetAt.AddDate(0, 1, 0)
		ok, err := g.repo.ResetUsage(sub.ID, sub.UsageResetAt, next)
		if err != nil {
			return nil, err
		}
		if ok {
			sub.APICallsUsed = 0
			sub.EpisodesCreated = 0
			sub.UsageResetAt = next
			g.notifyConsume(sub.UserID)
			continue
		}
		// Lost the race: someone else advanced the boundary. Re-read.
		fresh, err := g.repo.GetSubscriptionByUser(sub.UserID)
		if err != nil {
			return nil, err
		}
		if !fresh.UsageResetAt.After(sub.UsageResetAt) {
			// No forward progress; stop rather than spin.
			return fresh, nil
		}
		sub = fresh
	}
	return sub, nil
}

// usedEpisodes re-reads the counter for the denial message; the stale
// in-memory value may predate the losing increment.
func (g *Guard) usedEpisodes(sub *models.Subscription) int {
	if fresh, err := g.repo.GetSubscriptionByUser(sub.UserID); err == nil {
		return fresh.EpisodesCreated
	}
	return sub.EpisodesCreated
}

func (g *Guard) usedAPICalls(sub *models.Subscription) int {
	if fresh, err := g.repo.GetSubscriptionByUser(sub.UserID); err == nil {
		return fresh.APICallsUsed
	}
	return sub.APICallsUsed
}
