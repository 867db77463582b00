package entitlements

import (
	"github.com/podforge/podforge/app/models"
)

// Feature identifies a plan-gated capability.
type Feature string

const (
	FeatureCustomDomain      Feature = "custom_domain"
	FeatureAdvancedAnalytics Feature = "advanced_analytics"
	FeaturePrioritySupport   Feature = "priority_support"
	FeatureRSSImport         Feature = "rss_import"
)

// Has reports whether the plan grants the given feature. Entitlements apply
// only while the subscription row is in an entitled status; the caller is
// responsible for that check.
func Has(plan *models.Plan, f Feature) bool {
	if plan == nil {
		return false
	}
	feats := plan.Features()
	switch f {
	case FeatureCustomDomain:
		return feats.CustomDomain
	case FeatureAdvancedAnalytics:
		return feats.AdvancedAnalytics
	case FeaturePrioritySupport:
		return feats.PrioritySupport
	case FeatureRSSImport:
		return feats.RSSImport
	default:
		return false
	}
}

// List returns all features the plan grants, for API responses.
func List(plan *models.Plan) []Feature {
	all := []Feature{FeatureCustomDomain, FeatureAdvancedAnalytics, FeaturePrioritySupport, FeatureRSSImport}
	var granted []Feature
	for _, f := range all {
		if Has(plan, f) {
			granted = append(granted, f)
		}
	}
	return granted
}
