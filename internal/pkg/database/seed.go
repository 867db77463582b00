package database

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podforge/podforge/app/models"
)

// SeedDefaultPlans inserts the built-in plan catalog. Existing rows are left
// untouched so operators can tune limits and prices without the seeder
// clobbering them on restart.
func SeedDefaultPlans(db *gorm.DB) error {
	plans := defaultPlans()
	for i := range plans {
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).Create(&plans[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func defaultPlans() []models.Plan {
	free := models.Plan{
		Slug:                models.PlanFree,
		Name:                "Free",
		PriceMonthlyCents:   0,
		PriceYearlyCents:    0,
		MaxChannels:         1,
		MaxEpisodesPerMonth: 5,
		MaxAPICalls:         models.LimitDisabled,
		IsActive:            true,
	}
	free.SetFeatures(models.PlanFeatures{})

	starter := models.Plan{
		Slug:                models.PlanStarter,
		Name:                "Starter",
		PriceMonthlyCents:   900,
		PriceYearlyCents:    9000,
		MaxChannels:         3,
		MaxEpisodesPerMonth: 50,
		MaxAPICalls:         10000,
		IsActive:            true,
	}
	starter.SetFeatures(models.PlanFeatures{RSSImport: true})

	pro := models.Plan{
		Slug:                models.PlanPro,
		Name:                "Pro",
		PriceMonthlyCents:   2900,
		PriceYearlyCents:    29000,
		MaxChannels:         models.LimitUnlimited,
		MaxEpisodesPerMonth: models.LimitUnlimited,
		MaxAPICalls:         models.LimitUnlimited,
		IsActive:            true,
	}
	pro.SetFeatures(models.PlanFeatures{
		CustomDomain:      true,
		AdvancedAnalytics: true,
		PrioritySupport:   true,
		RSSImport:         true,
	})

	return []models.Plan{free, starter, pro}
}
