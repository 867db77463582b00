package models

import "time"

const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Subscription tracks the billing state and per-cycle usage counters for a
// single user. Exactly one row exists per user (enforced by the unique index
// on user_id); the absence of a row is the implicit free tier and is treated
// as active.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanID             uint       `gorm:"not null;index" json:"plan_id"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	BillingCycle       string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	Gateway            string     `gorm:"type:varchar(20);default:'';index" json:"gateway,omitempty"`
	ExternalID         string     `gorm:"type:varchar(191);default:'';index" json:"external_id,omitempty"`
	CustomerID         string     `gorm:"type:varchar(191);default:''" json:"customer_id,omitempty"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	TrialUsedAt        *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CanceledAt         *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	APICallsUsed       int        `gorm:"not null;default:0" json:"api_calls_used"`
	EpisodesCreated    int        `gorm:"not null;default:0" json:"episodes_created"`
	UsageResetAt       time.Time  `gorm:"not null" json:"usage_reset_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitled reports whether the subscription status grants access to paid
// features. past_due, canceled and expired all deny.
func (s *Subscription) IsEntitled() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// HasGateway reports whether the subscription is linked to an external
// payment provider.
func (s *Subscription) HasGateway() bool {
	return s.Gateway != ""
}

// ValidSubscriptionStatus reports whether s is a known canonical status.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}

// ValidBillingCycle reports whether c is a supported billing cycle.
func ValidBillingCycle(c string) bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}
