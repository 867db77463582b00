package quota

import (
	"time"

	"github.com/podforge/podforge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations behind usage metering. Counter
// increments are single conditional UPDATE statements so that a check and
// its increment cannot be separated by a concurrent request.
type Repository interface {
	GetSubscriptionByUser(userID uint) (*models.Subscription, error)
	// EnsureSubscription creates the free-tier row on first quota contact.
	EnsureSubscription(userID, freePlanID uint) (*models.Subscription, error)
	GetPlanByID(id uint) (*models.Plan, error)
	GetFreePlan() (*models.Plan, error)

	// ResetUsage zeroes both counters and advances usage_reset_at from
	// expectedResetAt to nextResetAt. It reports false when another request
	// already performed the reset for that boundary.
	ResetUsage(subID uint, expectedResetAt, nextResetAt time.Time) (bool, error)

	// IncrementAPICalls adds one to api_calls_used iff the cap allows it
	// (max=-1 means unlimited). Reports whether the increment happened.
	IncrementAPICalls(subID uint, max int) (bool, error)

	// IncrementEpisodes is IncrementAPICalls for episodes_created.
	IncrementEpisodes(subID uint, max int) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a quota repository backed by GORM.
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

func (r *gormRepository) ResetUsage(subID uint, expectedResetAt, nextResetAt time.Time) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND usage_reset_at = ?", subID, expectedResetAt).
		Updates(map[string]interface{}{
			"api_calls_used":   0,
			"episodes_created": 0,
			"usage_reset_at":   nextResetAt,
		})
	return tx.RowsAffected > 0, tx.Error
}

func (r *gormRepository) IncrementAPICalls(subID uint, max int) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (? = -1 OR api_calls_used < ?)", subID, max, max).
		UpdateColumn("api_calls_used", gorm.Expr("api_calls_used + 1"))
	return tx.RowsAffected > 0, tx.Error
}

func (r *gormRepository) IncrementEpisodes(subID uint, max int) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND (? = -1 OR episodes_created < ?)", subID, max, max).
		UpdateColumn("episodes_created", gorm.Expr("episodes_created + 1"))
	return tx.RowsAffected > 0, tx.Error
}
