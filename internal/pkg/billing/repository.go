package billing

import (
	"time"

	"github.com/podforge/podforge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the state machine.
type Repository interface {
	GetSubscriptionByUser(userID uint) (*models.Subscription, error)
	GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error)
	// EnsureSubscription creates the free-tier row for a user if absent and
	// returns the row. The unique index on user_id guarantees a single row
	// even under concurrent first calls.
	EnsureSubscription(userID, freePlanID uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	GetPlanByID(id uint) (*models.Plan, error)
	GetFreePlan() (*models.Plan, error)
	FindPlanMapping(provider string, planID uint, billingCycle string) (*models.PlanMapping, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("gateway = ? AND external_id = ?", provider, externalID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) EnsureSubscription(userID, freePlanID uint) (*models.Subscription, error) {
	sub := &models.Subscription{
		UserID:       userID,
		PlanID:       freePlanID,
		Status:       models.SubscriptionStatusActive,
		BillingCycle: models.BillingCycleMonthly,
		UsageResetAt: time.Now().AddDate(0, 1, 0),
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(sub).Error; err != nil {
		return nil, err
	}
	return r.GetSubscriptionByUser(userID)
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) GetPlanByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetFreePlan() (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("slug = ?", models.PlanFree).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPlanMapping(provider string, planID uint, billingCycle string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.
		Where("provider = ? AND plan_id = ? AND billing_cycle = ? AND is_active = ?", provider, planID, billingCycle, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
