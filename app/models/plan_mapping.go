package models

import "time"

// PlanMapping binds an internal plan and billing cycle to the
// provider-specific price/plan reference used at checkout (a Stripe price id,
// a PayPal billing-plan id).
type PlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_plan_mappings_ref,unique,priority:1" json:"provider"`
	PlanID          uint      `gorm:"not null;index:ux_plan_mappings_ref,unique,priority:2" json:"plan_id"`
	BillingCycle    string    `gorm:"type:varchar(16);not null;index:ux_plan_mappings_ref,unique,priority:3" json:"billing_cycle"`
	ProviderPriceRef string   `gorm:"type:varchar(191);not null" json:"provider_price_ref"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
