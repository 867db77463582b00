package models

import "time"

// Payment gateway identifiers used across billing-related models.
const (
	GatewayStripe = "stripe"
	GatewayPayPal = "paypal"
)

// GatewayCredential stores one payment provider's configuration as a
// serialized structured blob. Secrets are masked on every read path; the
// raw blob only leaves the credentials package for adapter construction.
type GatewayCredential struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;uniqueIndex" json:"provider"`
	Enabled         bool      `gorm:"default:false;index" json:"enabled"`
	TestMode        bool      `gorm:"default:true" json:"test_mode"`
	CredentialsJSON string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
