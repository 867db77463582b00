package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// Limit sentinel values. -1 means unlimited, 0 means the feature is not
// included in the plan. 0 is never treated as unlimited.
const (
	LimitUnlimited = -1
	LimitDisabled  = 0
)

const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// PlanFeatures is the typed shape stored in Plan.FeaturesJSON. Keys are
// enumerated here rather than carried around as an untyped map.
type PlanFeatures struct {
	CustomDomain      bool `json:"custom_domain"`
	AdvancedAnalytics bool `json:"advanced_analytics"`
	PrioritySupport   bool `json:"priority_support"`
	RSSImport         bool `json:"rss_import"`
}

// Plan defines a subscription tier with pricing and usage limits.
type Plan struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Slug                string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"slug" validate:"required,min=1,max=50"`
	Name                string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	PriceMonthlyCents   int       `gorm:"not null;default:0" json:"price_monthly_cents" validate:"gte=0"`
	PriceYearlyCents    int       `gorm:"not null;default:0" json:"price_yearly_cents" validate:"gte=0"`
	MaxChannels         int       `gorm:"not null;default:0" json:"max_channels" validate:"gte=-1"`
	MaxEpisodesPerMonth int       `gorm:"not null;default:0" json:"max_episodes_per_month" validate:"gte=-1"`
	MaxAPICalls         int       `gorm:"not null;default:0" json:"max_api_calls" validate:"gte=-1"`
	FeaturesJSON        string    `gorm:"type:text" json:"-"`
	IsActive            bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	v := validator.New()
	return v.Struct(p)
}

// IsPaid reports whether the plan carries a price on any billing cycle.
func (p *Plan) IsPaid() bool {
	return p.PriceMonthlyCents > 0 || p.PriceYearlyCents > 0
}

// Features parses the serialized feature flags. An empty or malformed blob
// yields the zero value, never an error; flags are additive only.
func (p *Plan) Features() PlanFeatures {
	var f PlanFeatures
	if p.FeaturesJSON == "" {
		return f
	}
	_ = json.Unmarshal([]byte(p.FeaturesJSON), &f)
	return f
}

// SetFeatures serializes feature flags into the stored blob.
func (p *Plan) SetFeatures(f PlanFeatures) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	p.FeaturesJSON = string(b)
	return nil
}
